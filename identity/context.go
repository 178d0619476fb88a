package identity

import "context"

type contextKey string

const sessionContextKey contextKey = "identity_session"

// WithSession scopes identity client calls on ctx to a browser session's cache partition.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

// SessionFromContext returns the session set by WithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionContextKey).(string)
	return sessionID, ok && sessionID != ""
}
