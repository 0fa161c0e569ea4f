package rest

import "context"

// contextKey keeps request-scoped values from colliding with other packages.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	claimsKey    contextKey = "auth_claims"
)

// RequestID returns the id assigned by the middleware chain, or "" when
// called outside of it.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ClaimsFromContext returns the verified token claims. The second return is
// false when auth is disabled or the middleware has not run.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}
