package gateway

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
)

// StripeClient implements Client using the Stripe SDK with PaymentIntents.
type StripeClient struct{}

// NewStripeClient creates a new Stripe gateway client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateIntent creates a Stripe PaymentIntent tagged with booking metadata.
func (c *StripeClient) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	piParams := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
	}
	if params.CustomerID != "" {
		piParams.Customer = stripe.String(params.CustomerID)
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, classify("create_intent", err)
	}

	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Currency:     string(pi.Currency),
	}
	if pi.Customer != nil {
		intent.CustomerID = pi.Customer.ID
	}
	return intent, nil
}

// ConfirmIntent confirms a PaymentIntent with the given payment method and
// maps Stripe's status onto the closed Outcome set. A card decline surfaces
// as OutcomeDeclined, not as an error.
func (c *StripeClient) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*ConfirmResult, error) {
	params := &stripe.PaymentIntentConfirmParams{
		Params:        stripe.Params{Context: ctx},
		PaymentMethod: stripe.String(paymentMethod),
	}

	pi, err := paymentintent.Confirm(intentID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			reason := string(se.Code)
			if reason == "" {
				reason = se.Msg
			}
			return &ConfirmResult{Outcome: OutcomeDeclined, DeclineReason: reason}, nil
		}
		return nil, classify("confirm_intent", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ConfirmResult{Outcome: OutcomeSucceeded}, nil
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return &ConfirmResult{Outcome: OutcomeProcessing}, nil
	default:
		reason := "payment_failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Code != "" {
			reason = string(pi.LastPaymentError.Code)
		}
		return &ConfirmResult{Outcome: OutcomeDeclined, DeclineReason: reason}, nil
	}
}

// CancelIntent cancels a PaymentIntent.
func (c *StripeClient) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	if _, err := paymentintent.Cancel(intentID, params); err != nil {
		return classify("cancel_intent", err)
	}
	return nil
}

// CreateRefund refunds part or all of a PaymentIntent.
func (c *StripeClient) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	rParams := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(params.IntentID),
		Amount:        stripe.Int64(params.AmountCents),
	}
	if params.Reason != "" {
		rParams.Reason = stripe.String(params.Reason)
	}

	r, err := refund.New(rParams)
	if err != nil {
		return nil, classify("create_refund", err)
	}

	return &Refund{
		ID:          r.ID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
		Reason:      string(r.Reason),
	}, nil
}

// classify wraps a Stripe SDK error with the transient-vs-permanent
// distinction. Timeouts, transport failures, 429s and gateway 5xx responses
// are retryable; everything the gateway definitively rejected is not.
func classify(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Op: op, Retryable: true, Err: err}
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		retryable := se.Type == stripe.ErrorTypeAPI ||
			se.HTTPStatusCode == 429 ||
			se.HTTPStatusCode >= 500
		return &Error{Op: op, Retryable: retryable, Err: err}
	}

	// Non-Stripe errors are transport-level failures.
	return &Error{Op: op, Retryable: true, Err: err}
}
