// Package api implements the HTTP surface of the payment lifecycle service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wheelhouse/rentpay/internal/booking"
	"github.com/wheelhouse/rentpay/internal/gateway"
	"github.com/wheelhouse/rentpay/internal/middleware"
	"github.com/wheelhouse/rentpay/internal/payment"
)

// Error codes returned in the response envelope.
const (
	CodeNotFound           = "not_found"
	CodeInvalidState       = "invalid_state"
	CodeGatewayUnavailable = "gateway_unavailable"
	CodeGatewayRejected    = "gateway_rejected"
	CodeValidationError    = "validation_error"
	CodeBadRequest         = "bad_request"
	CodeAuthFailed         = "auth_failed"
	CodeRateLimited        = "rate_limited"
	CodeInternalError      = "internal_error"
)

// ErrorDetail is the inner error object of the response envelope.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope for all error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// WriteError writes a JSON error envelope and records the code for the
// request log line.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	middleware.SetErrorCode(r.Context(), code)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode error response", "error", err)
	}
}

// writeDomainError maps lifecycle errors onto HTTP statuses. Not-found covers
// both missing rows and cross-tenant lookups; the caller cannot tell them
// apart. Gateway unavailability is a 502 so clients know to retry with the
// same idempotency key.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, booking.ErrBookingNotFound):
		WriteError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, payment.ErrInvalidState):
		WriteError(w, r, http.StatusConflict, CodeInvalidState, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		WriteError(w, r, http.StatusBadGateway, CodeGatewayUnavailable,
			"payment gateway is temporarily unavailable, retry with the same Idempotency-Key")
	case errors.Is(err, payment.ErrInvariantViolation):
		slog.ErrorContext(r.Context(), "payment invariant violation", "error", err)
		WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "internal error")
	case isGatewayRejection(err):
		WriteError(w, r, http.StatusBadGateway, CodeGatewayRejected,
			"payment gateway rejected the request")
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "error", err)
		WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "internal error")
	}
}

// isGatewayRejection reports whether err is a definitive gateway rejection.
// Retryable gateway failures are wrapped into ErrGatewayUnavailable by the
// lifecycle service, so any gateway error reaching this point is permanent.
func isGatewayRejection(err error) bool {
	var ge *gateway.Error
	return errors.As(err, &ge)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
