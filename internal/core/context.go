package core

import "context"

type contextKey string

const (
	ctxKeyIPAddress   contextKey = "audit_ip"
	ctxKeyUserAgent   contextKey = "audit_ua"
	ctxKeyCounterName contextKey = "counter_name"
)

// ContextWithIPAddress adds the client IP for audit logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the client User-Agent for audit logging.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// ContextWithCounterName records who is counting. Count events created with
// this context and no explicit counter name carry it.
func ContextWithCounterName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyCounterName, name)
}

func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

func GetUserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

func GetCounterNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCounterName).(string); ok {
		return v
	}
	return ""
}
