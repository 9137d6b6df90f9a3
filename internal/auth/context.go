package auth

import "context"

type contextKey string

const contextKeyUserID contextKey = "user_id"

// WithUserID stores the authenticated user's id on the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// UserIDFromContext returns the id stored by RequireBearer.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKeyUserID).(int64)
	return id, ok && id > 0
}
