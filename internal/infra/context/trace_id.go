package context

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyTraceID = contextKey("traceID")

// TraceIDFromContext extracts the trace ID from the context.
// Returns the trace ID and true if present, or empty string and false if not present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(contextKeyTraceID).(string)

	return traceID, ok
}

// WithTraceID creates a new context with the given trace ID value.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKeyTraceID, traceID)
}

// WithNewTraceID creates a new context carrying a freshly generated trace ID,
// so every log record of one store operation can be correlated.
func WithNewTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, uuid.NewString())
}
