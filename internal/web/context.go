package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/logging"
	mw "github.com/JonMunkholm/stockcount/internal/web/middleware"
)

// CounterNameHeader identifies the person counting. Count endpoints also
// accept counter_name in the body, which wins.
const CounterNameHeader = "X-Counter-Name"

// WithRequestMetadata adds the client IP, User-Agent and counter name to ctx
// for audit logging and count attribution.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, mw.ClientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	if name := strings.TrimSpace(r.Header.Get(CounterNameHeader)); name != "" {
		ctx = core.ContextWithCounterName(ctx, name)
	}
	return ctx
}

// orgContext tags the request context with the organization from the URL so
// every log line for the request carries org_id.
func orgContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithOrg(r.Context(), chi.URLParam(r, "orgID"))
		ctx = WithRequestMetadata(ctx, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCounterName overrides the header-supplied counter name.
func withCounterName(ctx context.Context, name string) context.Context {
	if name = strings.TrimSpace(name); name != "" {
		return core.ContextWithCounterName(ctx, name)
	}
	return ctx
}
