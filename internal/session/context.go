package session

import "context"

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user id
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFrom returns the authenticated user id, or 0 for anonymous requests
func UserIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKey{}).(int64)
	return id
}
