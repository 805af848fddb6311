// Package logging configures the process-wide slog logger and derives
// request- and organization-scoped loggers from a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type orgKey struct{}

// Setup installs the default slog logger writing to stdout.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger without installing it. The CLI export command uses it
// to keep report output on stdout separate from logs on stderr.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithOrg stores the organization being operated on so that every logger
// derived from ctx carries org_id.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

// OrgFromContext returns the organization stored by WithOrg, if any.
func OrgFromContext(ctx context.Context) string {
	s, _ := ctx.Value(orgKey{}).(string)
	return s
}

// FromContext returns the default logger enriched with request_id (from
// chi's RequestID middleware) and org_id when present.
//
//	func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("scan recorded", "sku", sku)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if org := OrgFromContext(ctx); org != "" {
		logger = logger.With("org_id", org)
	}

	return logger
}

// WithFields returns a context logger with additional structured fields.
//
//	importLogger := logging.WithFields(ctx, "import_id", id, "rows", len(rows))
//	importLogger.Info("import started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
