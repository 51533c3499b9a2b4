package payment

import (
	"errors"
	"fmt"
)

// ErrPaymentNotFound is returned when a payment does not exist or belongs to
// a different organization. Callers must not be able to distinguish the two.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrInvalidState is the base error for every state-machine rejection.
// Specific rejections wrap it so callers can match with errors.Is.
var ErrInvalidState = errors.New("invalid payment state")

var (
	// ErrAlreadySucceeded is returned when confirming a payment that has
	// already succeeded. Re-confirming after money has moved is a business
	// error, not a no-op.
	ErrAlreadySucceeded = fmt.Errorf("%w: payment already succeeded", ErrInvalidState)

	// ErrUseRefundInstead is returned when canceling a succeeded payment.
	ErrUseRefundInstead = fmt.Errorf("%w: payment already succeeded, use refund instead", ErrInvalidState)

	// ErrTerminalState is returned for any operation on a failed or
	// refunded payment.
	ErrTerminalState = fmt.Errorf("%w: payment is in a terminal state", ErrInvalidState)

	// ErrNotRefundable is returned when refunding a payment that has not
	// succeeded.
	ErrNotRefundable = fmt.Errorf("%w: only succeeded payments can be refunded", ErrInvalidState)

	// ErrRefundExceedsRemaining is returned when a refund would push the
	// cumulative refunded amount past the original charge.
	ErrRefundExceedsRemaining = fmt.Errorf("%w: refund exceeds remaining amount", ErrInvalidState)

	// ErrMissingGatewayRef is returned when a payment has no gateway
	// reference to operate on.
	ErrMissingGatewayRef = fmt.Errorf("%w: payment has no gateway reference", ErrInvalidState)
)

// ErrInvariantViolation signals a consistency check failing (e.g. refund math
// that should have been impossible). Always a bug, never silently clamped.
var ErrInvariantViolation = errors.New("payment invariant violation")

// ErrGatewayUnavailable is returned when the gateway could not be reached or
// timed out. No state change is committed; the caller may retry behind the
// idempotency layer.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")
