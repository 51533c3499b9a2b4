package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Gateway webhook event names handled by the lifecycle service.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded  = "charge.refunded"
)

// GatewayEvent is a gateway webhook event normalized to the fields the state
// machine needs. The API layer builds these from verified gateway payloads.
type GatewayEvent struct {
	Type          string
	GatewayRef    string
	FailureReason string
	// RefundedTotalCents is the cumulative refunded amount reported by the
	// gateway for refund events. Cumulative totals make redelivery
	// idempotent: the delta against the stored row is applied, which is
	// zero on a repeat.
	RefundedTotalCents int64
}

// ApplyGatewayEvent feeds an asynchronous gateway event through the same
// transition table as the synchronous operations. Webhooks are delivered
// at least once: a transition that is already satisfied is a no-op, never
// an error. Unknown payments surface ErrPaymentNotFound so the transport
// layer can decide how to acknowledge.
func (s *Service) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) error {
	if ev.GatewayRef == "" {
		return fmt.Errorf("%w: webhook event without gateway reference", ErrInvariantViolation)
	}

	p, err := s.store.GetByGatewayRef(ctx, ev.GatewayRef)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	// Re-read under the lock; a synchronous call may have moved the row.
	p, err = s.store.GetForOrg(ctx, p.OrganizationID, p.ID)
	if err != nil {
		return err
	}

	switch ev.Type {
	case EventIntentSucceeded:
		return s.applyRemoteSucceeded(ctx, p)
	case EventIntentFailed:
		return s.applyRemoteFailed(ctx, p, ev.FailureReason)
	case EventChargeRefunded:
		return s.applyRemoteRefund(ctx, p, ev.RefundedTotalCents)
	default:
		slog.InfoContext(ctx, "ignoring unhandled gateway event", "event_type", ev.Type, "gateway_ref", ev.GatewayRef)
		return nil
	}
}

func (s *Service) applyRemoteSucceeded(ctx context.Context, p *Payment) error {
	switch p.Status {
	case StatusSucceeded, StatusRefunded:
		// Transition already satisfied.
		return nil
	case StatusFailed:
		// A success report for a payment we recorded as failed cannot be
		// reconciled automatically.
		slog.WarnContext(ctx, "gateway reported success for failed payment; leaving row untouched",
			"payment_id", p.ID)
		return nil
	}

	from := p.Status
	if _, err := s.store.MarkSucceeded(ctx, p.OrganizationID, p.ID, ""); err != nil {
		return err
	}
	s.metrics.observeTransition(from, StatusSucceeded)
	slog.InfoContext(ctx, "payment succeeded via webhook", "payment_id", p.ID)
	return nil
}

func (s *Service) applyRemoteFailed(ctx context.Context, p *Payment, reason string) error {
	if p.IsTerminal() || p.Status == StatusSucceeded {
		return nil
	}

	if reason == "" {
		reason = "payment_failed"
	}
	from := p.Status
	if _, err := s.store.MarkFailed(ctx, p.OrganizationID, p.ID, reason); err != nil {
		return err
	}
	s.metrics.observeTransition(from, StatusFailed)
	slog.InfoContext(ctx, "payment failed via webhook", "payment_id", p.ID, "reason", reason)
	return nil
}

func (s *Service) applyRemoteRefund(ctx context.Context, p *Payment, refundedTotal int64) error {
	if refundedTotal < 0 || refundedTotal > p.AmountCents {
		return fmt.Errorf("%w: gateway reported refunded total %d outside [0,%d]",
			ErrInvariantViolation, refundedTotal, p.AmountCents)
	}

	delta := refundedTotal - p.RefundedAmountCents
	if delta <= 0 {
		// Redelivery or an out-of-order event; the row is already ahead.
		return nil
	}
	if p.Status != StatusSucceeded {
		slog.WarnContext(ctx, "refund event for payment not in succeeded state; skipping",
			"payment_id", p.ID, "status", p.Status)
		return nil
	}

	updated, err := s.store.ApplyRefund(ctx, p.OrganizationID, p.ID, delta)
	if err != nil {
		return err
	}
	s.metrics.observeRefund(delta)
	if updated.Status == StatusRefunded {
		s.metrics.observeTransition(StatusSucceeded, StatusRefunded)
	}
	slog.InfoContext(ctx, "refund applied via webhook",
		"payment_id", p.ID, "refunded_total_cents", updated.RefundedAmountCents)
	return nil
}

// simulatedEventPayload is the JSON body the simulated gateway delivers.
type simulatedEventPayload struct {
	GatewayRef     string `json:"gateway_ref"`
	LastError      string `json:"last_error,omitempty"`
	AmountRefunded int64  `json:"amount_refunded,omitempty"`
}

// HandleWebhook parses a simulated-gateway payload and applies it. Real
// gateway payloads are verified and normalized by the API layer before they
// reach ApplyGatewayEvent.
func (s *Service) HandleWebhook(ctx context.Context, eventName string, payload []byte) error {
	var body simulatedEventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("parse webhook payload: %w", err)
	}

	return s.ApplyGatewayEvent(ctx, GatewayEvent{
		Type:               eventName,
		GatewayRef:         body.GatewayRef,
		FailureReason:      body.LastError,
		RefundedTotalCents: body.AmountRefunded,
	})
}
