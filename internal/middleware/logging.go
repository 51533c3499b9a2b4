package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// orgIDKey is the context key for the caller's organization ID.
type orgIDKey struct{}

// errorCodeKey is the context key for the error-code holder.
type errorCodeKey struct{}

// errorCodeHolder lets handlers record an error code after the logging
// middleware has already derived its context. The org field exists for the
// same reason: the auth middleware runs inside Logging, so its derived
// context is invisible to the log line without a shared holder.
type errorCodeHolder struct {
	code string
	org  string
}

// SetOrgID stores the caller's organization ID in the context.
// This is called by the auth middleware after validating the token.
func SetOrgID(ctx context.Context, orgID string) context.Context {
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		h.org = orgID
	}
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// GetOrgID retrieves the organization ID from context. Returns empty string
// if not present.
func GetOrgID(ctx context.Context) string {
	if id, ok := ctx.Value(orgIDKey{}).(string); ok {
		return id
	}
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		return h.org
	}
	return ""
}

// SetErrorCode records an error code for the current request so the logging
// middleware can attach it to the request log line. It is a no-op outside a
// request handled by Logging.
func SetErrorCode(ctx context.Context, code string) {
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		h.code = code
	}
}

// getErrorCode retrieves the recorded error code, if any.
func getErrorCode(ctx context.Context) string {
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		return h.code
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it. Only the first
// call sets the status code, matching http.ResponseWriter behavior.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production it returns a JSON handler, otherwise a text handler.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields:
// method, path, status, latency (ms), request ID, organization (if present),
// response size, and error_code for error responses.
//
// Note: if a handler panics, the log entry will not be written. Place a
// recovery middleware outside of the logging middleware if needed.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := newResponseWriter(w)
			ctx := context.WithValue(r.Context(), errorCodeKey{}, &errorCodeHolder{})

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(start).Milliseconds()

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", latency),
				slog.Int("size", rw.size),
			}

			if requestID := GetRequestID(ctx); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}
			if orgID := GetOrgID(ctx); orgID != "" {
				attrs = append(attrs, slog.String("org_id", orgID))
			}
			if rw.statusCode >= 400 {
				if errorCode := getErrorCode(ctx); errorCode != "" {
					attrs = append(attrs, slog.String("error_code", errorCode))
				}
			}

			switch {
			case rw.statusCode >= 500:
				logger.LogAttrs(ctx, slog.LevelError, "request completed", attrs...)
			case rw.statusCode >= 400:
				logger.LogAttrs(ctx, slog.LevelWarn, "request completed", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}
