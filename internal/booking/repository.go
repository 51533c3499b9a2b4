package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBookingNotFound is returned when a booking does not exist or belongs to
// a different organization. The two cases are deliberately indistinguishable
// so lookups cannot leak existence across tenants.
var ErrBookingNotFound = errors.New("booking not found")

// ErrAlreadyConfirmed is returned when confirming a booking that already has
// its deposit paid. The payment store treats this as an invariant breach.
var ErrAlreadyConfirmed = errors.New("booking already confirmed")

// Repository defines tenant-scoped booking persistence. Status transitions
// exist only for the payment store; nothing else mutates bookings here.
type Repository interface {
	Insert(ctx context.Context, b *Booking) error
	GetForOrg(ctx context.Context, orgID, id string) (*Booking, error)

	// MarkConfirmed flips a pending booking to confirmed and records the
	// deposit timestamp. Returns ErrAlreadyConfirmed if the deposit was
	// already paid.
	MarkConfirmed(ctx context.Context, orgID, id string, depositPaidAt time.Time) error

	// MarkCancelled flips a booking to cancelled after a full refund.
	MarkCancelled(ctx context.Context, orgID, id string) error
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu       sync.RWMutex
	bookings map[string]*Booking
}

// NewInMemoryRepository creates a new in-memory booking repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		bookings: make(map[string]*Booking),
	}
}

// Insert adds a new booking.
func (r *InMemoryRepository) Insert(ctx context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}

	now := time.Now()
	if b.CreatedAt == nil {
		b.CreatedAt = &now
	}
	if b.UpdatedAt == nil {
		b.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	copied := *b
	r.bookings[b.ID] = &copied

	return nil
}

// GetForOrg retrieves a booking scoped to an organization.
func (r *InMemoryRepository) GetForOrg(ctx context.Context, orgID, id string) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok || b.OrganizationID != orgID {
		return nil, ErrBookingNotFound
	}

	copied := *b
	return &copied, nil
}

// MarkConfirmed flips a pending booking to confirmed.
func (r *InMemoryRepository) MarkConfirmed(ctx context.Context, orgID, id string, depositPaidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.OrganizationID != orgID {
		return ErrBookingNotFound
	}
	if b.DepositPaidAt != nil {
		return ErrAlreadyConfirmed
	}

	now := time.Now()
	b.Status = StatusConfirmed
	b.DepositPaidAt = &depositPaidAt
	b.UpdatedAt = &now

	return nil
}

// MarkCancelled flips a booking to cancelled.
func (r *InMemoryRepository) MarkCancelled(ctx context.Context, orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.OrganizationID != orgID {
		return ErrBookingNotFound
	}

	now := time.Now()
	b.Status = StatusCancelled
	b.UpdatedAt = &now

	return nil
}
