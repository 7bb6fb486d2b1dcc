package logger

import "context"

type contextKey string

const (
	traceKey   contextKey = "trace_id"
	sessionKey contextKey = "session_id"
)

// WithTraceID tags ctx with the id of the request that started the work.
// The tag survives conversation recursion, so audit lines of a nested
// session still point back at the ingress request.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID tags ctx with the running session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey).(string); ok {
		return id
	}
	return ""
}
