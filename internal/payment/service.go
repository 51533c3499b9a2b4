package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wheelhouse/rentpay/internal/booking"
	"github.com/wheelhouse/rentpay/internal/gateway"
	"github.com/wheelhouse/rentpay/internal/tracing"
)

// DefaultCurrency is used when an intent is created without one.
const DefaultCurrency = "usd"

// DefaultGatewayTimeout bounds every outbound gateway call. A timeout during
// confirm is an indeterminate outcome: the payment is left as-is and the
// caller gets a retryable error. Rows stuck in pending after repeated
// timeouts are a matter for manual reconciliation, never guessed success.
const DefaultGatewayTimeout = 10 * time.Second

// Service orchestrates the payment state machine. It is the only mutator of
// payment and booking rows; all writes go through the conditional
// transitions on Store. A per-payment lock serializes confirm/cancel/refund
// within this process; the store's status guards defend across processes.
type Service struct {
	store           Store
	bookings        booking.Repository
	gateway         gateway.Client
	locks           *keyedMutex
	metrics         *Metrics
	defaultCurrency string
	gatewayTimeout  time.Duration
}

// NewService creates a payment lifecycle service. metrics may be nil.
func NewService(store Store, bookings booking.Repository, gw gateway.Client, metrics *Metrics) *Service {
	return &Service{
		store:           store,
		bookings:        bookings,
		gateway:         gw,
		locks:           newKeyedMutex(),
		metrics:         metrics,
		defaultCurrency: DefaultCurrency,
		gatewayTimeout:  DefaultGatewayTimeout,
	}
}

// SetGatewayTimeout overrides the per-call gateway deadline.
func (s *Service) SetGatewayTimeout(d time.Duration) {
	if d > 0 {
		s.gatewayTimeout = d
	}
}

// SetDefaultCurrency overrides the currency applied to intents created
// without one.
func (s *Service) SetDefaultCurrency(currency string) {
	if currency != "" {
		s.defaultCurrency = currency
	}
}

// CreateIntentInput are the caller-supplied parameters for a new intent.
type CreateIntentInput struct {
	BookingID   string
	AmountCents int64  // 0 defaults to the booking total
	Currency    string // empty defaults to DefaultCurrency
	CustomerID  string // optional gateway customer passthrough
}

// IntentResult pairs the persisted payment with the client-usable secret
// from the gateway. The secret is opaque to this service.
type IntentResult struct {
	Payment      *Payment `json:"payment"`
	ClientSecret string   `json:"client_secret"`
}

// RefundResult pairs the updated payment with the gateway's refund receipt.
type RefundResult struct {
	Payment *Payment        `json:"payment"`
	Receipt *gateway.Refund `json:"refund"`
}

// CreateIntent creates a gateway intent for a booking and persists a pending
// payment referencing it. Retried client requests are deduplicated one layer
// up by the idempotency middleware; a second call here simply creates a
// second payment row.
func (s *Service) CreateIntent(ctx context.Context, orgID string, in CreateIntentInput) (*IntentResult, error) {
	ctx, end := tracing.StartSpan(ctx, "payment.create_intent")
	var retErr error
	defer func() { end(retErr) }()

	b, err := s.bookings.GetForOrg(ctx, orgID, in.BookingID)
	if err != nil {
		retErr = err
		return nil, err
	}

	amount := in.AmountCents
	if amount == 0 {
		amount = b.TotalCents
	}
	if amount <= 0 {
		retErr = fmt.Errorf("%w: amount must be a positive integer", ErrInvalidState)
		return nil, retErr
	}

	currency := in.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	intent, err := s.createGatewayIntent(ctx, gateway.CreateIntentParams{
		AmountCents: amount,
		Currency:    currency,
		CustomerID:  in.CustomerID,
		Metadata: map[string]string{
			"booking_id":      b.ID,
			"organization_id": orgID,
		},
	})
	if err != nil {
		retErr = err
		return nil, err
	}
	if intent.ID == "" {
		retErr = fmt.Errorf("%w: gateway returned intent without id", ErrInvariantViolation)
		return nil, retErr
	}

	p := &Payment{
		BookingID:          b.ID,
		OrganizationID:     orgID,
		AmountCents:        amount,
		Currency:           currency,
		GatewayReferenceID: &intent.ID,
	}
	if in.CustomerID != "" {
		p.GatewayCustomerID = &in.CustomerID
	}

	if err := s.store.CreatePending(ctx, p); err != nil {
		retErr = err
		return nil, err
	}

	s.metrics.observeTransition("none", StatusPending)
	slog.InfoContext(ctx, "payment intent created",
		"payment_id", p.ID,
		"booking_id", b.ID,
		"amount_cents", amount,
		"currency", currency,
	)

	return &IntentResult{Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// Confirm drives a payment through the gateway's confirm call and applies
// exactly one transition based on the reported outcome. A declined charge is
// a valid result, not an error: the returned payment carries status failed
// with the decline reason.
func (s *Service) Confirm(ctx context.Context, orgID, paymentID, paymentMethod string) (*Payment, error) {
	ctx, end := tracing.StartSpan(ctx, "payment.confirm")
	var retErr error
	defer func() { end(retErr) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, err := s.store.GetForOrg(ctx, orgID, paymentID)
	if err != nil {
		retErr = err
		return nil, err
	}
	if err := confirmGuard(p); err != nil {
		retErr = err
		return nil, err
	}

	res, err := s.confirmGatewayIntent(ctx, *p.GatewayReferenceID, paymentMethod)
	if err != nil {
		retErr = err
		return nil, err
	}

	from := p.Status
	var updated *Payment
	switch res.Outcome {
	case gateway.OutcomeSucceeded:
		updated, err = s.store.MarkSucceeded(ctx, orgID, paymentID, "card")
	case gateway.OutcomeProcessing:
		if p.Status == StatusProcessing {
			// Already waiting on the gateway; nothing to apply.
			return p, nil
		}
		updated, err = s.store.MarkProcessing(ctx, orgID, paymentID, "card")
	case gateway.OutcomeDeclined:
		updated, err = s.store.MarkFailed(ctx, orgID, paymentID, res.DeclineReason)
	default:
		retErr = fmt.Errorf("%w: unknown gateway outcome %q", ErrInvariantViolation, res.Outcome)
		return nil, retErr
	}
	if err != nil {
		retErr = err
		return nil, err
	}

	s.metrics.observeTransition(from, updated.Status)
	slog.InfoContext(ctx, "payment confirmed",
		"payment_id", paymentID,
		"outcome", string(res.Outcome),
		"status", updated.Status,
	)

	return updated, nil
}

// Cancel aborts a payment that has not succeeded. Succeeded payments must be
// refunded instead.
func (s *Service) Cancel(ctx context.Context, orgID, paymentID string) (*Payment, error) {
	ctx, end := tracing.StartSpan(ctx, "payment.cancel")
	var retErr error
	defer func() { end(retErr) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, err := s.store.GetForOrg(ctx, orgID, paymentID)
	if err != nil {
		retErr = err
		return nil, err
	}
	if p.Status == StatusSucceeded {
		retErr = ErrUseRefundInstead
		return nil, retErr
	}
	if p.IsTerminal() {
		retErr = ErrTerminalState
		return nil, retErr
	}
	if p.GatewayReferenceID == nil || *p.GatewayReferenceID == "" {
		retErr = ErrMissingGatewayRef
		return nil, retErr
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	if err := s.gateway.CancelIntent(gctx, *p.GatewayReferenceID); err != nil {
		retErr = s.mapGatewayError(ctx, err)
		return nil, retErr
	}

	from := p.Status
	updated, err := s.store.MarkFailed(ctx, orgID, paymentID, FailureReasonCanceled)
	if err != nil {
		retErr = err
		return nil, err
	}

	s.metrics.observeTransition(from, StatusFailed)
	slog.InfoContext(ctx, "payment canceled", "payment_id", paymentID)

	return updated, nil
}

// Refund refunds part or all of a succeeded payment. amountCents of 0 means
// the full remaining amount. A refund that brings the cumulative total to
// the original charge flips the payment to refunded and cancels the booking.
func (s *Service) Refund(ctx context.Context, orgID, paymentID string, amountCents int64, reason string) (*RefundResult, error) {
	ctx, end := tracing.StartSpan(ctx, "payment.refund")
	var retErr error
	defer func() { end(retErr) }()

	unlock := s.locks.Lock(paymentID)
	defer unlock()

	p, err := s.store.GetForOrg(ctx, orgID, paymentID)
	if err != nil {
		retErr = err
		return nil, err
	}
	switch {
	case p.Status == StatusRefunded:
		retErr = ErrTerminalState
		return nil, retErr
	case p.Status != StatusSucceeded:
		retErr = ErrNotRefundable
		return nil, retErr
	case p.GatewayReferenceID == nil || *p.GatewayReferenceID == "":
		retErr = ErrMissingGatewayRef
		return nil, retErr
	}

	remaining := p.RemainingCents()
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents <= 0 || amountCents > remaining {
		retErr = ErrRefundExceedsRemaining
		return nil, retErr
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	receipt, err := s.gateway.CreateRefund(gctx, gateway.RefundParams{
		IntentID:    *p.GatewayReferenceID,
		AmountCents: amountCents,
		Reason:      reason,
	})
	if err != nil {
		retErr = s.mapGatewayError(ctx, err)
		return nil, retErr
	}
	if receipt.ID == "" || receipt.AmountCents != amountCents {
		retErr = fmt.Errorf("%w: gateway refund receipt mismatch (id=%q amount=%d want=%d)",
			ErrInvariantViolation, receipt.ID, receipt.AmountCents, amountCents)
		return nil, retErr
	}

	updated, err := s.store.ApplyRefund(ctx, orgID, paymentID, amountCents)
	if err != nil {
		retErr = err
		return nil, err
	}

	s.metrics.observeRefund(amountCents)
	if updated.Status == StatusRefunded {
		s.metrics.observeTransition(StatusSucceeded, StatusRefunded)
	}
	slog.InfoContext(ctx, "payment refunded",
		"payment_id", paymentID,
		"amount_cents", amountCents,
		"refunded_total_cents", updated.RefundedAmountCents,
		"status", updated.Status,
	)

	return &RefundResult{Payment: updated, Receipt: receipt}, nil
}

// Get returns a payment scoped to the caller's organization.
func (s *Service) Get(ctx context.Context, orgID, paymentID string) (*Payment, error) {
	return s.store.GetForOrg(ctx, orgID, paymentID)
}

// ListForBooking returns all payments recorded against a booking.
func (s *Service) ListForBooking(ctx context.Context, orgID, bookingID string) ([]*Payment, error) {
	return s.store.ListForBooking(ctx, orgID, bookingID)
}

// confirmGuard rejects confirms that are not permitted from the current
// status. "Already succeeded" is a distinct business error because money has
// moved; silently accepting the retry would hide a client bug.
func confirmGuard(p *Payment) error {
	switch {
	case p.Status == StatusSucceeded:
		return ErrAlreadySucceeded
	case p.IsTerminal():
		return ErrTerminalState
	case p.GatewayReferenceID == nil || *p.GatewayReferenceID == "":
		return ErrMissingGatewayRef
	}
	return nil
}

func (s *Service) createGatewayIntent(ctx context.Context, params gateway.CreateIntentParams) (*gateway.Intent, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	gctx, end := tracing.StartGatewaySpan(gctx, "create_intent")
	intent, err := s.gateway.CreateIntent(gctx, params)
	end(err)
	if err != nil {
		return nil, s.mapGatewayError(ctx, err)
	}
	return intent, nil
}

func (s *Service) confirmGatewayIntent(ctx context.Context, intentID, paymentMethod string) (*gateway.ConfirmResult, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	gctx, end := tracing.StartGatewaySpan(gctx, "confirm_intent")
	res, err := s.gateway.ConfirmIntent(gctx, intentID, paymentMethod)
	end(err)
	if err != nil {
		return nil, s.mapGatewayError(ctx, err)
	}
	return res, nil
}

// mapGatewayError records the failure and translates retryable gateway
// errors into ErrGatewayUnavailable. No state has been committed when this
// is reached.
func (s *Service) mapGatewayError(ctx context.Context, err error) error {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		s.metrics.observeGatewayError(ge.Op, ge.Retryable)
		if ge.Retryable {
			slog.WarnContext(ctx, "gateway unavailable", "op", ge.Op, "error", err)
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		slog.ErrorContext(ctx, "gateway call rejected", "op", ge.Op, "error", err)
		return err
	}
	return err
}
