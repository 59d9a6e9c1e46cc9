package reqcontext

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CorrelationHeader is the primary inbound/outbound header carrying the
// correlation ID threaded through logs, outbox rows, and downstream calls.
const CorrelationHeader = "X-Correlation-ID"

// TraceHeader and RequestHeader are accepted as fallbacks when a caller
// (or an upstream proxy) sets one of these instead of CorrelationHeader.
const TraceHeader = "X-Trace-Id"
const RequestHeader = "X-Request-Id"

// IdempotencyHeader is the inbound header naming an idempotent request.
const IdempotencyHeader = "Idempotency-Key"

// Correlation attaches a correlation ID and the idempotency key to the
// request context, echoing the correlation ID back on the response. The
// ID is taken from the first of CorrelationHeader, TraceHeader, or
// RequestHeader that's set, falling back to a freshly generated one so a
// caller that only propagates x-request-id isn't silently overridden.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = r.Header.Get(TraceHeader)
		}
		if id == "" {
			id = r.Header.Get(RequestHeader)
		}
		if id == "" {
			id = uuid.New().String()
		}
		ctx := WithCorrelationID(r.Context(), id)
		ctx = WithIdempotencyKey(ctx, r.Header.Get(IdempotencyHeader))
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs every request with its duration and status, the same
// shape as the gRPC logging interceptor it's generalized from.
func Logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			logEvent := logger.Info()
			if sw.status >= 500 {
				logEvent = logger.Error()
			}
			logEvent.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration_ms", duration).
				Str("correlation_id", CorrelationID(r.Context())).
				Msg("request completed")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
