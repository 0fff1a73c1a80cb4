package optimizations

import "context"

type contextKey string

const requestIDKey contextKey = "requestId"

// WithRequestID returns a context carrying the request id for log
// correlation across the pipeline.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// backgroundWithRequestID detaches from the request context while keeping
// the request id, so terminal persistence survives a dropped client.
func backgroundWithRequestID(ctx context.Context) context.Context {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		return context.Background()
	}
	return WithRequestID(context.Background(), requestID)
}
