// Package gateway defines the payment gateway contract and its adapters.
// The lifecycle service switches on a closed set of confirm outcomes instead
// of probing optional fields on gateway objects.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the closed set of results a confirm call can produce.
type Outcome string

const (
	// OutcomeSucceeded means the charge completed and funds are captured.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeProcessing means the gateway accepted the confirmation but the
	// charge has not settled yet; a webhook will report the final state.
	OutcomeProcessing Outcome = "processing"
	// OutcomeDeclined means the gateway definitively rejected the charge.
	OutcomeDeclined Outcome = "declined"
)

// CreateIntentParams are the inputs for creating a gateway intent.
type CreateIntentParams struct {
	AmountCents int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// Intent is the gateway's representation of an in-progress charge.
type Intent struct {
	ID           string
	ClientSecret string
	Currency     string
	CustomerID   string
}

// ConfirmResult reports the outcome of confirming an intent.
// DeclineReason is only set when Outcome is OutcomeDeclined.
type ConfirmResult struct {
	Outcome       Outcome
	DeclineReason string
}

// RefundParams are the inputs for refunding part or all of an intent.
type RefundParams struct {
	IntentID    string
	AmountCents int64
	Reason      string
}

// Refund is the gateway's refund receipt. It is returned to API callers as
// part of the refund response.
type Refund struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// Client is the gateway contract. Every call carries a context; adapters are
// expected to honor its deadline. All errors are *Error so callers can
// distinguish transient failures from permanent ones.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*ConfirmResult, error)
	CancelIntent(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)
}

// Error wraps a gateway failure with a transient-vs-permanent distinction.
// Retryable errors (timeouts, transport failures, gateway 5xx) left the
// remote state indeterminate; callers must not assume success or failure.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a gateway error that is safe to retry
// behind the idempotency layer.
func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}
