package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wheelhouse/rentpay/internal/booking"
	"github.com/wheelhouse/rentpay/internal/tracing"
)

// PostgresStore implements Store using PostgreSQL. Coupled payment+booking
// transitions run in a single transaction with the payment row locked via
// SELECT ... FOR UPDATE, so racing confirms or refunds serialize at the
// database even across processes.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const paymentColumns = `id, booking_id, organization_id, amount_cents, currency, status,
	gateway_reference_id, gateway_customer_id, payment_method_label, failure_reason,
	refunded_amount_cents, created_at, updated_at`

// CreatePending persists a new pending payment.
func (s *PostgresStore) CreatePending(ctx context.Context, p *Payment) error {
	ctx, end := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationInsert)
	var retErr error
	defer func() { end(retErr) }()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending
	p.RefundedAmountCents = 0

	now := time.Now()
	p.CreatedAt = &now
	p.UpdatedAt = &now

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.BookingID, p.OrganizationID, p.AmountCents, p.Currency, p.Status,
		p.GatewayReferenceID, p.GatewayCustomerID, p.PaymentMethodLabel, p.FailureReason,
		p.RefundedAmountCents, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		retErr = fmt.Errorf("insert payment: %w", err)
		return retErr
	}
	return nil
}

// GetForOrg retrieves a payment scoped to an organization.
func (s *PostgresStore) GetForOrg(ctx context.Context, orgID, id string) (*Payment, error) {
	ctx, end := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)
	var retErr error
	defer func() { end(retErr) }()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND organization_id = $2`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, id, orgID))
	if err != nil {
		retErr = err
		return nil, err
	}
	return p, nil
}

// GetByGatewayRef retrieves a payment by its gateway reference id.
func (s *PostgresStore) GetByGatewayRef(ctx context.Context, ref string) (*Payment, error) {
	ctx, end := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)
	var retErr error
	defer func() { end(retErr) }()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_reference_id = $1`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, ref))
	if err != nil {
		retErr = err
		return nil, err
	}
	return p, nil
}

// ListForBooking returns all payments for a booking, scoped to the org.
func (s *PostgresStore) ListForBooking(ctx context.Context, orgID, bookingID string) ([]*Payment, error) {
	ctx, end := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)
	var retErr error
	defer func() { end(retErr) }()

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE organization_id = $1 AND booking_id = $2 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, orgID, bookingID)
	if err != nil {
		retErr = fmt.Errorf("list payments: %w", err)
		return nil, retErr
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			retErr = err
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		retErr = err
		return nil, err
	}
	return out, nil
}

// MarkProcessing moves pending -> processing.
func (s *PostgresStore) MarkProcessing(ctx context.Context, orgID, id, methodLabel string) (*Payment, error) {
	return s.transition(ctx, orgID, id, func(tx *sql.Tx, p *Payment) error {
		if p.Status != StatusPending {
			return transitionError(p.Status)
		}

		now := time.Now()
		query := `UPDATE payments SET status = $1, payment_method_label = COALESCE($2, payment_method_label), updated_at = $3
			WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, StatusProcessing, nullString(methodLabel), now, id); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		p.Status = StatusProcessing
		if methodLabel != "" {
			p.PaymentMethodLabel = &methodLabel
		}
		p.UpdatedAt = &now
		return nil
	})
}

// MarkSucceeded moves pending|processing -> succeeded and confirms the
// booking inside the same transaction.
func (s *PostgresStore) MarkSucceeded(ctx context.Context, orgID, id, methodLabel string) (*Payment, error) {
	return s.transition(ctx, orgID, id, func(tx *sql.Tx, p *Payment) error {
		if p.Status != StatusPending && p.Status != StatusProcessing {
			return transitionError(p.Status)
		}

		now := time.Now()

		// The deposit_paid_at guard keeps a second confirmation from
		// re-stamping the booking even if the payment guard were bypassed.
		res, err := tx.ExecContext(ctx, `
			UPDATE bookings SET status = $1, deposit_paid_at = $2, updated_at = $2
			WHERE id = $3 AND organization_id = $4 AND deposit_paid_at IS NULL
		`, booking.StatusConfirmed, now, p.BookingID, orgID)
		if err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: booking %s already confirmed or missing", ErrInvariantViolation, p.BookingID)
		}

		query := `UPDATE payments SET status = $1, payment_method_label = COALESCE($2, payment_method_label), updated_at = $3
			WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, StatusSucceeded, nullString(methodLabel), now, id); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		p.Status = StatusSucceeded
		if methodLabel != "" {
			p.PaymentMethodLabel = &methodLabel
		}
		p.UpdatedAt = &now
		return nil
	})
}

// MarkFailed moves pending|processing -> failed.
func (s *PostgresStore) MarkFailed(ctx context.Context, orgID, id, reason string) (*Payment, error) {
	return s.transition(ctx, orgID, id, func(tx *sql.Tx, p *Payment) error {
		if p.Status != StatusPending && p.Status != StatusProcessing {
			return transitionError(p.Status)
		}

		now := time.Now()
		query := `UPDATE payments SET status = $1, failure_reason = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, StatusFailed, reason, now, id); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		p.Status = StatusFailed
		p.FailureReason = &reason
		p.UpdatedAt = &now
		return nil
	})
}

// ApplyRefund increments the refunded amount under the row lock; a full
// refund also cancels the booking in the same transaction.
func (s *PostgresStore) ApplyRefund(ctx context.Context, orgID, id string, amountCents int64) (*Payment, error) {
	return s.transition(ctx, orgID, id, func(tx *sql.Tx, p *Payment) error {
		if p.Status != StatusSucceeded {
			return transitionError(p.Status)
		}
		if amountCents <= 0 {
			return fmt.Errorf("%w: refund amount must be positive", ErrInvariantViolation)
		}
		if p.RefundedAmountCents+amountCents > p.AmountCents {
			return ErrRefundExceedsRemaining
		}

		now := time.Now()
		newTotal := p.RefundedAmountCents + amountCents
		status := StatusSucceeded
		if newTotal == p.AmountCents {
			status = StatusRefunded
			if _, err := tx.ExecContext(ctx, `
				UPDATE bookings SET status = $1, updated_at = $2
				WHERE id = $3 AND organization_id = $4
			`, booking.StatusCancelled, now, p.BookingID, orgID); err != nil {
				return fmt.Errorf("cancel booking: %w", err)
			}
		}

		query := `UPDATE payments SET status = $1, refunded_amount_cents = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, status, newTotal, now, id); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		p.Status = status
		p.RefundedAmountCents = newTotal
		p.UpdatedAt = &now
		return nil
	})
}

// transition runs fn inside a transaction with the payment row locked.
// fn mutates p to reflect the applied change; on any error the whole unit
// rolls back and no partial state is visible.
func (s *PostgresStore) transition(ctx context.Context, orgID, id string, fn func(tx *sql.Tx, p *Payment) error) (*Payment, error) {
	ctx, end := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationUpdate)
	var retErr error
	defer func() { end(retErr) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		retErr = fmt.Errorf("begin transaction: %w", err)
		return nil, retErr
	}

	// No-op after a successful commit.
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback transaction", "error", err)
		}
	}()

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	p, err := scanPayment(tx.QueryRowContext(ctx, query, id, orgID))
	if err != nil {
		retErr = err
		return nil, err
	}

	if err := fn(tx, p); err != nil {
		retErr = err
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		retErr = fmt.Errorf("commit transaction: %w", err)
		return nil, retErr
	}
	return p, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var p Payment
	var gatewayRef, gatewayCustomer, methodLabel, failureReason sql.NullString
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.BookingID, &p.OrganizationID, &p.AmountCents, &p.Currency, &p.Status,
		&gatewayRef, &gatewayCustomer, &methodLabel, &failureReason,
		&p.RefundedAmountCents, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if gatewayRef.Valid {
		p.GatewayReferenceID = &gatewayRef.String
	}
	if gatewayCustomer.Valid {
		p.GatewayCustomerID = &gatewayCustomer.String
	}
	if methodLabel.Valid {
		p.PaymentMethodLabel = &methodLabel.String
	}
	if failureReason.Valid {
		p.FailureReason = &failureReason.String
	}
	if createdAt.Valid {
		p.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = &updatedAt.Time
	}

	return &p, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
