package domain

import "context"

type ctxKey string

const (
	sessionCtxKey ctxKey = "session_id"
	threadCtxKey  ctxKey = "thread_id"
)

// ContextWithSessionID returns a new context carrying the UI session ID.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithThreadID returns a new context carrying the memory partition key.
func ContextWithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadCtxKey, threadID)
}

// ThreadIDFromContext extracts the thread ID from the context.
func ThreadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(threadCtxKey).(string); ok {
		return v
	}
	return ""
}
