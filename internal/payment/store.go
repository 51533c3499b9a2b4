package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wheelhouse/rentpay/internal/booking"
)

// Store defines payment persistence. Every transition is conditional on the
// current status so two racing callers cannot both apply the same move, and
// the transitions that touch the booking (MarkSucceeded, a full refund in
// ApplyRefund) apply both rows as a single atomic unit.
type Store interface {
	CreatePending(ctx context.Context, p *Payment) error
	GetForOrg(ctx context.Context, orgID, id string) (*Payment, error)
	GetByGatewayRef(ctx context.Context, ref string) (*Payment, error)
	ListForBooking(ctx context.Context, orgID, bookingID string) ([]*Payment, error)

	// MarkProcessing moves pending -> processing.
	MarkProcessing(ctx context.Context, orgID, id, methodLabel string) (*Payment, error)

	// MarkSucceeded moves pending|processing -> succeeded and, in the same
	// unit, confirms the booking and stamps its deposit.
	MarkSucceeded(ctx context.Context, orgID, id, methodLabel string) (*Payment, error)

	// MarkFailed moves pending|processing -> failed with a reason.
	MarkFailed(ctx context.Context, orgID, id, reason string) (*Payment, error)

	// ApplyRefund increments the refunded amount under the row lock. When
	// the cumulative refund reaches the charge, the payment flips to
	// refunded and the booking is cancelled in the same unit.
	ApplyRefund(ctx context.Context, orgID, id string, amountCents int64) (*Payment, error)
}

// InMemoryStore implements Store with in-memory storage. All transitions run
// under one mutex, which gives the same serialization the Postgres store
// gets from row locks.
type InMemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	bookings booking.Repository
}

// NewInMemoryStore creates a new in-memory payment store. The booking
// repository receives the coupled side effects of succeeded and fully
// refunded transitions.
func NewInMemoryStore(bookings booking.Repository) *InMemoryStore {
	return &InMemoryStore{
		payments: make(map[string]*Payment),
		bookings: bookings,
	}
}

// CreatePending persists a new pending payment.
func (s *InMemoryStore) CreatePending(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending
	p.RefundedAmountCents = 0

	now := time.Now()
	if p.CreatedAt == nil {
		p.CreatedAt = &now
	}
	if p.UpdatedAt == nil {
		p.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	copied := *p
	s.payments[p.ID] = &copied

	return nil
}

// GetForOrg retrieves a payment scoped to an organization. A row owned by
// another tenant reads the same as an absent row.
func (s *InMemoryStore) GetForOrg(ctx context.Context, orgID, id string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrPaymentNotFound
	}

	copied := *p
	return &copied, nil
}

// GetByGatewayRef retrieves a payment by its gateway reference id. Used by
// the webhook path, which authenticates at the transport layer rather than
// by tenant.
func (s *InMemoryStore) GetByGatewayRef(ctx context.Context, ref string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.GatewayReferenceID != nil && *p.GatewayReferenceID == ref {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// ListForBooking returns all payments for a booking, scoped to the org.
func (s *InMemoryStore) ListForBooking(ctx context.Context, orgID, bookingID string) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Payment
	for _, p := range s.payments {
		if p.OrganizationID == orgID && p.BookingID == bookingID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

// MarkProcessing moves pending -> processing.
func (s *InMemoryStore) MarkProcessing(ctx context.Context, orgID, id, methodLabel string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusPending {
		return nil, transitionError(p.Status)
	}

	now := time.Now()
	p.Status = StatusProcessing
	if methodLabel != "" {
		p.PaymentMethodLabel = &methodLabel
	}
	p.UpdatedAt = &now

	copied := *p
	return &copied, nil
}

// MarkSucceeded moves pending|processing -> succeeded and confirms the
// booking in the same unit. Exactly one payment can win this transition for
// a given booking; a second racer fails the status guard.
func (s *InMemoryStore) MarkSucceeded(ctx context.Context, orgID, id, methodLabel string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return nil, transitionError(p.Status)
	}

	now := time.Now()
	if err := s.bookings.MarkConfirmed(ctx, orgID, p.BookingID, now); err != nil {
		// The payment status guard should make a double confirmation
		// impossible; reaching this is a bug, and the payment row is left
		// untouched so the unit stays atomic.
		return nil, fmt.Errorf("%w: confirm booking %s: %v", ErrInvariantViolation, p.BookingID, err)
	}

	p.Status = StatusSucceeded
	if methodLabel != "" {
		p.PaymentMethodLabel = &methodLabel
	}
	p.UpdatedAt = &now

	copied := *p
	return &copied, nil
}

// MarkFailed moves pending|processing -> failed.
func (s *InMemoryStore) MarkFailed(ctx context.Context, orgID, id, reason string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return nil, transitionError(p.Status)
	}

	now := time.Now()
	p.Status = StatusFailed
	p.FailureReason = &reason
	p.UpdatedAt = &now

	copied := *p
	return &copied, nil
}

// ApplyRefund applies a refund under the store lock. The read-modify-write
// on RefundedAmountCents happens entirely inside the critical section, so a
// stale read can never produce a blind increment.
func (s *InMemoryStore) ApplyRefund(ctx context.Context, orgID, id string, amountCents int64) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.OrganizationID != orgID {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusSucceeded {
		return nil, transitionError(p.Status)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvariantViolation)
	}
	if p.RefundedAmountCents+amountCents > p.AmountCents {
		return nil, ErrRefundExceedsRemaining
	}

	now := time.Now()
	p.RefundedAmountCents += amountCents
	if p.RefundedAmountCents == p.AmountCents {
		if err := s.bookings.MarkCancelled(ctx, orgID, p.BookingID); err != nil {
			p.RefundedAmountCents -= amountCents
			return nil, fmt.Errorf("%w: cancel booking %s: %v", ErrInvariantViolation, p.BookingID, err)
		}
		p.Status = StatusRefunded
	}
	p.UpdatedAt = &now

	copied := *p
	return &copied, nil
}

// transitionError maps a current status to the specific rejection for an
// attempted transition out of it.
func transitionError(status string) error {
	switch status {
	case StatusSucceeded:
		return ErrAlreadySucceeded
	case StatusFailed, StatusRefunded:
		return ErrTerminalState
	default:
		return fmt.Errorf("%w: unexpected status %q", ErrInvalidState, status)
	}
}
