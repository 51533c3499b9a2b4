package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Payment method tokens the simulated gateway understands. Any token with
// the declined prefix is declined; the suffix becomes the decline reason.
const (
	SimMethodOK             = "pm_card_ok"
	SimMethodProcessing     = "pm_card_processing"
	SimMethodDeclinedPrefix = "pm_card_declined"
	SimMethodUnreachable    = "pm_unreachable"
)

// ErrSimIntentNotFound is returned for operations on unknown intent IDs.
var ErrSimIntentNotFound = errors.New("simulated gateway: intent not found")

// WebhookSink receives events emitted by SimulateWebhook. The API layer
// registers its webhook handler here so simulated events flow through the
// same path as real gateway callbacks.
type WebhookSink func(ctx context.Context, event string, payload []byte) error

type simIntent struct {
	id       string
	amount   int64
	currency string
	status   Outcome
	refunded int64
	canceled bool
}

// SimulatedClient implements Client entirely in memory. It honors the same
// contract as the Stripe adapter and is deterministic: the payment method
// token chooses the confirm outcome.
type SimulatedClient struct {
	mu      sync.Mutex
	intents map[string]*simIntent
	sink    WebhookSink
}

// NewSimulatedClient creates a new simulated gateway.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{
		intents: make(map[string]*simIntent),
	}
}

// SetWebhookSink registers the receiver for simulated webhook events.
func (c *SimulatedClient) SetWebhookSink(sink WebhookSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// CreateIntent creates a simulated intent.
func (c *SimulatedClient) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	if params.AmountCents <= 0 {
		return nil, &Error{Op: "create_intent", Retryable: false, Err: errors.New("amount must be positive")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := "sim_pi_" + uuid.New().String()
	c.intents[id] = &simIntent{
		id:       id,
		amount:   params.AmountCents,
		currency: params.Currency,
	}

	return &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.New().String()[:8],
		Currency:     params.Currency,
		CustomerID:   params.CustomerID,
	}, nil
}

// ConfirmIntent resolves the outcome from the payment method token.
func (c *SimulatedClient) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*ConfirmResult, error) {
	if paymentMethod == SimMethodUnreachable {
		return nil, &Error{Op: "confirm_intent", Retryable: true, Err: context.DeadlineExceeded}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	in, ok := c.intents[intentID]
	if !ok {
		return nil, &Error{Op: "confirm_intent", Retryable: false, Err: ErrSimIntentNotFound}
	}
	if in.canceled {
		return nil, &Error{Op: "confirm_intent", Retryable: false, Err: errors.New("intent canceled")}
	}

	switch {
	case paymentMethod == SimMethodProcessing:
		in.status = OutcomeProcessing
		return &ConfirmResult{Outcome: OutcomeProcessing}, nil
	case strings.HasPrefix(paymentMethod, SimMethodDeclinedPrefix):
		reason := strings.TrimPrefix(paymentMethod, SimMethodDeclinedPrefix)
		reason = strings.TrimPrefix(reason, "_")
		if reason == "" {
			reason = "card_declined"
		}
		return &ConfirmResult{Outcome: OutcomeDeclined, DeclineReason: reason}, nil
	default:
		in.status = OutcomeSucceeded
		return &ConfirmResult{Outcome: OutcomeSucceeded}, nil
	}
}

// CancelIntent cancels a simulated intent.
func (c *SimulatedClient) CancelIntent(ctx context.Context, intentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, ok := c.intents[intentID]
	if !ok {
		return &Error{Op: "cancel_intent", Retryable: false, Err: ErrSimIntentNotFound}
	}
	in.canceled = true
	return nil
}

// CreateRefund refunds part or all of a simulated intent. The simulated
// gateway enforces its own cap so the lifecycle service's validation of
// gateway responses can be exercised in tests.
func (c *SimulatedClient) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, ok := c.intents[params.IntentID]
	if !ok {
		return nil, &Error{Op: "create_refund", Retryable: false, Err: ErrSimIntentNotFound}
	}
	if in.refunded+params.AmountCents > in.amount {
		return nil, &Error{
			Op:        "create_refund",
			Retryable: false,
			Err:       fmt.Errorf("refund of %d exceeds charge of %d", params.AmountCents, in.amount),
		}
	}
	in.refunded += params.AmountCents

	return &Refund{
		ID:          "sim_re_" + uuid.New().String(),
		AmountCents: params.AmountCents,
		Status:      "succeeded",
		Reason:      params.Reason,
	}, nil
}

// SimulateWebhook delivers a gateway event to the registered sink. This is
// the test/mocking hook for exercising the asynchronous path; real gateways
// deliver over HTTP instead.
func (c *SimulatedClient) SimulateWebhook(ctx context.Context, event string, payload []byte) error {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()

	if sink == nil {
		return errors.New("simulated gateway: no webhook sink registered")
	}
	return sink(ctx, event, payload)
}
