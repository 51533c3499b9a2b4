package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wheelhouse/rentpay/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL. The coupled
// payment-side transitions run inside the payment store's transactions and
// touch the bookings table directly; this repository covers the standalone
// reads and writes.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a new booking.
func (r *PostgresRepository) Insert(ctx context.Context, b *Booking) error {
	ctx, end := tracing.StartDBSpan(ctx, "bookings", tracing.DBOperationInsert)
	var retErr error
	defer func() { end(retErr) }()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}

	now := time.Now()
	b.CreatedAt = &now
	b.UpdatedAt = &now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (id, organization_id, total_cents, status, deposit_paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.OrganizationID, b.TotalCents, b.Status, b.DepositPaidAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		retErr = fmt.Errorf("insert booking: %w", err)
		return retErr
	}
	return nil
}

// GetForOrg retrieves a booking scoped to an organization.
func (r *PostgresRepository) GetForOrg(ctx context.Context, orgID, id string) (*Booking, error) {
	ctx, end := tracing.StartDBSpan(ctx, "bookings", tracing.DBOperationQuery)
	var retErr error
	defer func() { end(retErr) }()

	var b Booking
	var depositPaidAt, createdAt, updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, total_cents, status, deposit_paid_at, created_at, updated_at
		FROM bookings WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&b.ID, &b.OrganizationID, &b.TotalCents, &b.Status, &depositPaidAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		retErr = ErrBookingNotFound
		return nil, retErr
	}
	if err != nil {
		retErr = fmt.Errorf("scan booking: %w", err)
		return nil, retErr
	}

	if depositPaidAt.Valid {
		b.DepositPaidAt = &depositPaidAt.Time
	}
	if createdAt.Valid {
		b.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		b.UpdatedAt = &updatedAt.Time
	}

	return &b, nil
}

// MarkConfirmed flips a pending booking to confirmed.
func (r *PostgresRepository) MarkConfirmed(ctx context.Context, orgID, id string, depositPaidAt time.Time) error {
	ctx, end := tracing.StartDBSpan(ctx, "bookings", tracing.DBOperationUpdate)
	var retErr error
	defer func() { end(retErr) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = $1, deposit_paid_at = $2, updated_at = $2
		WHERE id = $3 AND organization_id = $4 AND deposit_paid_at IS NULL
	`, StatusConfirmed, depositPaidAt, id, orgID)
	if err != nil {
		retErr = fmt.Errorf("confirm booking: %w", err)
		return retErr
	}

	n, err := res.RowsAffected()
	if err != nil {
		retErr = err
		return err
	}
	if n == 0 {
		if _, getErr := r.GetForOrg(ctx, orgID, id); getErr != nil {
			retErr = getErr
			return getErr
		}
		retErr = ErrAlreadyConfirmed
		return retErr
	}
	return nil
}

// MarkCancelled flips a booking to cancelled.
func (r *PostgresRepository) MarkCancelled(ctx context.Context, orgID, id string) error {
	ctx, end := tracing.StartDBSpan(ctx, "bookings", tracing.DBOperationUpdate)
	var retErr error
	defer func() { end(retErr) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = $1, updated_at = $2
		WHERE id = $3 AND organization_id = $4
	`, StatusCancelled, time.Now(), id, orgID)
	if err != nil {
		retErr = fmt.Errorf("cancel booking: %w", err)
		return retErr
	}

	n, err := res.RowsAffected()
	if err != nil {
		retErr = err
		return err
	}
	if n == 0 {
		retErr = ErrBookingNotFound
		return retErr
	}
	return nil
}
