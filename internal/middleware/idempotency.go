package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/wheelhouse/rentpay/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter captures the response for caching.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b)
	return n, err
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns
// empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// Idempotency returns a middleware that enforces idempotency for mutating
// payment requests. Every POST on a configured route must carry an
// Idempotency-Key header; a retried key returns the cached response without
// re-invoking the handler (and therefore without re-invoking gateway calls).
// routes maps normalized route patterns (e.g. "/payments/{id}/confirm").
func Idempotency(repo idempotency.Repository, routes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[NormalizePath(r.URL.Path)] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				writeIdempotencyError(w, r, http.StatusBadRequest,
					"missing_idempotency_key", "Idempotency-Key header is required for this request")
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				code := "invalid_idempotency_key"
				message := "Invalid Idempotency-Key format"
				if err == idempotency.ErrKeyTooLong {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeIdempotencyError(w, r, http.StatusBadRequest, code, message)
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			existing, err := repo.Get(key)
			if err == nil {
				writeIdempotencyHit(w, r, existing)
				return
			}
			if err != idempotency.ErrKeyNotFound {
				// Unexpected error; log and continue without idempotency.
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			// Reserve the key before running the handler so a concurrent
			// request with the same key cannot also execute.
			reservation := &idempotency.Key{
				Key:    key,
				Method: r.Method,
				Route:  NormalizePath(r.URL.Path),
				Status: idempotency.StatusProcessing,
			}
			if err := repo.Store(reservation); err != nil {
				if err == idempotency.ErrKeyExists {
					// Lost the race. The winner may already have finished, so
					// check once more before reporting the conflict.
					if existing, err := repo.Get(key); err == nil {
						writeIdempotencyHit(w, r, existing)
						return
					}
					writeIdempotencyError(w, r, http.StatusConflict,
						"idempotency_key_in_flight", "A request with this Idempotency-Key is still being processed")
					return
				}
				slog.ErrorContext(ctx, "failed to reserve idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			captureWriter := newIdempotencyResponseWriter(w)
			next.ServeHTTP(captureWriter, r)

			// Only cache stable outcomes (2xx). Errors release the key so a
			// retry after a gateway outage can succeed.
			if captureWriter.statusCode >= 200 && captureWriter.statusCode < 300 {
				responseBody := captureWriter.body.String()
				reservation.Status = idempotency.StatusCompleted
				reservation.ResponseHash = idempotency.ComputeResponseHash(responseBody)
				reservation.ResponseBody = responseBody
				reservation.ResponseStatusCode = captureWriter.statusCode

				if err := repo.Update(reservation); err != nil {
					// Response already sent; just log.
					slog.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
				}
			} else if err := repo.Delete(key); err != nil {
				slog.ErrorContext(ctx, "failed to release idempotency key", "key", key, "error", err)
			}
		})
	}
}

// writeIdempotencyHit replays the cached response for a completed key, or
// reports a conflict while the original request is still in flight.
func writeIdempotencyHit(w http.ResponseWriter, r *http.Request, record *idempotency.Key) {
	if record.Status == idempotency.StatusProcessing {
		writeIdempotencyError(w, r, http.StatusConflict,
			"idempotency_key_in_flight", "A request with this Idempotency-Key is still being processed")
		return
	}

	slog.InfoContext(r.Context(), "idempotency key found, returning cached response",
		"key", record.Key,
		"status", record.ResponseStatusCode,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.ResponseStatusCode)
	io.WriteString(w, record.ResponseBody)
}

func writeIdempotencyError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":{"code":"`+code+`","message":"`+message+`"}}`)
}
