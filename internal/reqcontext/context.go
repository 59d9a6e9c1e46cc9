// Package reqcontext carries per-request correlation and idempotency
// values through context.Context, the same way the handler interceptors
// thread a request ID into every log line.
package reqcontext

import "context"

type contextKey int

const (
	correlationIDKey contextKey = iota
	idempotencyKeyKey
)

// WithCorrelationID attaches a correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation ID attached to ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithIdempotencyKey attaches the caller-supplied Idempotency-Key header
// value to ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyKey, key)
}

// IdempotencyKey returns the idempotency key attached to ctx, or "" if none.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyKey).(string)
	return key
}
