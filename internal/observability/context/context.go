// Package obscontext carries correlation identifiers through request contexts.
package obscontext

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerIDKey  contextKey = "caller_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

func CallerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}
