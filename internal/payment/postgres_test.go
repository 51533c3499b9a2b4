package payment

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/wheelhouse/rentpay/internal/booking"
)

// These tests need a PostgreSQL database with the migrations applied.
// They skip when DATABASE_URL is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("database not reachable: %v", err)
	}
	return db
}

func insertPGBooking(t *testing.T, repo *booking.PostgresRepository, orgID string) *booking.Booking {
	t.Helper()

	b := &booking.Booking{
		OrganizationID: orgID,
		TotalCents:     50000,
	}
	if err := repo.Insert(context.Background(), b); err != nil {
		t.Fatalf("failed to insert booking: %v", err)
	}
	return b
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	db := openTestDB(t)

	orgID := "11111111-1111-1111-1111-111111111111"
	bookings := booking.NewPostgresRepository(db)
	store := NewPostgresStore(db, slog.Default())

	b := insertPGBooking(t, bookings, orgID)

	ref := "pi_it_" + b.ID
	p := &Payment{
		BookingID:          b.ID,
		OrganizationID:     orgID,
		AmountCents:        50000,
		Currency:           "usd",
		GatewayReferenceID: &ref,
	}
	if err := store.CreatePending(context.Background(), p); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	got, err := store.GetForOrg(context.Background(), orgID, p.ID)
	if err != nil {
		t.Fatalf("GetForOrg failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}

	if _, err := store.GetForOrg(context.Background(), "22222222-2222-2222-2222-222222222222", p.ID); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("cross-tenant error = %v, want ErrPaymentNotFound", err)
	}

	succeeded, err := store.MarkSucceeded(context.Background(), orgID, p.ID, "card")
	if err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if succeeded.Status != StatusSucceeded {
		t.Errorf("status = %q, want succeeded", succeeded.Status)
	}

	gotBooking, err := bookings.GetForOrg(context.Background(), orgID, b.ID)
	if err != nil {
		t.Fatalf("GetForOrg booking failed: %v", err)
	}
	if gotBooking.Status != booking.StatusConfirmed || gotBooking.DepositPaidAt == nil {
		t.Errorf("booking = %+v, want confirmed with deposit timestamp", gotBooking)
	}

	partial, err := store.ApplyRefund(context.Background(), orgID, p.ID, 25000)
	if err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}
	if partial.RefundedAmountCents != 25000 || partial.Status != StatusSucceeded {
		t.Errorf("after partial refund = %q/%d, want succeeded/25000", partial.Status, partial.RefundedAmountCents)
	}

	full, err := store.ApplyRefund(context.Background(), orgID, p.ID, 25000)
	if err != nil {
		t.Fatalf("full refund failed: %v", err)
	}
	if full.Status != StatusRefunded {
		t.Errorf("status = %q, want refunded", full.Status)
	}

	gotBooking, _ = bookings.GetForOrg(context.Background(), orgID, b.ID)
	if gotBooking.Status != booking.StatusCancelled {
		t.Errorf("booking status = %q, want cancelled", gotBooking.Status)
	}
}

func TestPostgresStore_SecondPaymentCannotConfirmBooking(t *testing.T) {
	db := openTestDB(t)

	orgID := "11111111-1111-1111-1111-111111111111"
	bookings := booking.NewPostgresRepository(db)
	store := NewPostgresStore(db, slog.Default())

	b := insertPGBooking(t, bookings, orgID)

	makePayment := func(suffix string) *Payment {
		ref := "pi_it_" + b.ID + suffix
		p := &Payment{
			BookingID:          b.ID,
			OrganizationID:     orgID,
			AmountCents:        50000,
			Currency:           "usd",
			GatewayReferenceID: &ref,
		}
		if err := store.CreatePending(context.Background(), p); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}
		return p
	}

	first := makePayment("_a")
	second := makePayment("_b")

	if _, err := store.MarkSucceeded(context.Background(), orgID, first.ID, "card"); err != nil {
		t.Fatalf("first MarkSucceeded failed: %v", err)
	}
	if _, err := store.MarkSucceeded(context.Background(), orgID, second.ID, "card"); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("second MarkSucceeded error = %v, want ErrInvariantViolation", err)
	}
}
