package authcore

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's source address to ctx. The Engine
// uses it for per-source rate limiting and audit logging. It is never an
// input to an authorization decision.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
