package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/wheelhouse/rentpay/internal/booking"
)

const testOrgID = "org-1"

func newTestStore(t *testing.T) (*InMemoryStore, *booking.InMemoryRepository, *booking.Booking) {
	t.Helper()

	bookings := booking.NewInMemoryRepository()
	b := &booking.Booking{
		OrganizationID: testOrgID,
		TotalCents:     50000,
	}
	if err := bookings.Insert(context.Background(), b); err != nil {
		t.Fatalf("failed to insert booking: %v", err)
	}

	return NewInMemoryStore(bookings), bookings, b
}

func createTestPayment(t *testing.T, store *InMemoryStore, b *booking.Booking, amount int64) *Payment {
	t.Helper()

	ref := "pi_" + b.ID
	p := &Payment{
		BookingID:          b.ID,
		OrganizationID:     testOrgID,
		AmountCents:        amount,
		Currency:           "usd",
		GatewayReferenceID: &ref,
	}
	if err := store.CreatePending(context.Background(), p); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	return p
}

func TestCreatePending_Defaults(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	if p.ID == "" {
		t.Error("expected generated payment ID")
	}
	if p.Status != StatusPending {
		t.Errorf("status = %q, want %q", p.Status, StatusPending)
	}
	if p.RefundedAmountCents != 0 {
		t.Errorf("refunded_amount_cents = %d, want 0", p.RefundedAmountCents)
	}
	if p.CreatedAt == nil || p.UpdatedAt == nil {
		t.Error("expected timestamps to be set")
	}
}

func TestGetForOrg_TenantIsolation(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	if _, err := store.GetForOrg(context.Background(), testOrgID, p.ID); err != nil {
		t.Fatalf("GetForOrg with owning org failed: %v", err)
	}

	_, err := store.GetForOrg(context.Background(), "org-2", p.ID)
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("cross-tenant GetForOrg error = %v, want ErrPaymentNotFound", err)
	}
}

func TestMarkSucceeded_ConfirmsBooking(t *testing.T) {
	store, bookings, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	updated, err := store.MarkSucceeded(context.Background(), testOrgID, p.ID, "card")
	if err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if updated.Status != StatusSucceeded {
		t.Errorf("status = %q, want %q", updated.Status, StatusSucceeded)
	}

	got, err := bookings.GetForOrg(context.Background(), testOrgID, b.ID)
	if err != nil {
		t.Fatalf("GetForOrg booking failed: %v", err)
	}
	if got.Status != booking.StatusConfirmed {
		t.Errorf("booking status = %q, want %q", got.Status, booking.StatusConfirmed)
	}
	if got.DepositPaidAt == nil {
		t.Error("expected deposit_paid_at to be set")
	}
}

func TestMarkSucceeded_SecondPaymentCannotConfirmAgain(t *testing.T) {
	store, _, b := newTestStore(t)
	first := createTestPayment(t, store, b, 50000)
	second := createTestPayment(t, store, b, 50000)

	if _, err := store.MarkSucceeded(context.Background(), testOrgID, first.ID, "card"); err != nil {
		t.Fatalf("first MarkSucceeded failed: %v", err)
	}

	_, err := store.MarkSucceeded(context.Background(), testOrgID, second.ID, "card")
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("second MarkSucceeded error = %v, want ErrInvariantViolation", err)
	}

	// The failed unit must not have moved the payment row.
	got, err := store.GetForOrg(context.Background(), testOrgID, second.ID)
	if err != nil {
		t.Fatalf("GetForOrg failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("second payment status = %q, want %q", got.Status, StatusPending)
	}
}

func TestMarkSucceeded_StatusGuard(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	if _, err := store.MarkFailed(context.Background(), testOrgID, p.ID, "card_declined"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	_, err := store.MarkSucceeded(context.Background(), testOrgID, p.ID, "card")
	if !errors.Is(err, ErrTerminalState) {
		t.Errorf("MarkSucceeded on failed payment error = %v, want ErrTerminalState", err)
	}
}

func TestMarkProcessing_OnlyFromPending(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	updated, err := store.MarkProcessing(context.Background(), testOrgID, p.ID, "card")
	if err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Errorf("status = %q, want %q", updated.Status, StatusProcessing)
	}

	if _, err := store.MarkProcessing(context.Background(), testOrgID, p.ID, "card"); err == nil {
		t.Error("expected second MarkProcessing to fail")
	}
}

func TestApplyRefund_PartialThenFull(t *testing.T) {
	store, bookings, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	if _, err := store.MarkSucceeded(context.Background(), testOrgID, p.ID, "card"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	partial, err := store.ApplyRefund(context.Background(), testOrgID, p.ID, 25000)
	if err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}
	if partial.Status != StatusSucceeded {
		t.Errorf("status after partial refund = %q, want %q", partial.Status, StatusSucceeded)
	}
	if partial.RefundedAmountCents != 25000 {
		t.Errorf("refunded_amount_cents = %d, want 25000", partial.RefundedAmountCents)
	}

	full, err := store.ApplyRefund(context.Background(), testOrgID, p.ID, 25000)
	if err != nil {
		t.Fatalf("full refund failed: %v", err)
	}
	if full.Status != StatusRefunded {
		t.Errorf("status after full refund = %q, want %q", full.Status, StatusRefunded)
	}

	got, err := bookings.GetForOrg(context.Background(), testOrgID, b.ID)
	if err != nil {
		t.Fatalf("GetForOrg booking failed: %v", err)
	}
	if got.Status != booking.StatusCancelled {
		t.Errorf("booking status = %q, want %q", got.Status, booking.StatusCancelled)
	}
}

func TestApplyRefund_RejectsOverRefund(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	if _, err := store.MarkSucceeded(context.Background(), testOrgID, p.ID, "card"); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if _, err := store.ApplyRefund(context.Background(), testOrgID, p.ID, 25000); err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}

	_, err := store.ApplyRefund(context.Background(), testOrgID, p.ID, 25001)
	if !errors.Is(err, ErrRefundExceedsRemaining) {
		t.Errorf("over-refund error = %v, want ErrRefundExceedsRemaining", err)
	}

	got, _ := store.GetForOrg(context.Background(), testOrgID, p.ID)
	if got.RefundedAmountCents != 25000 {
		t.Errorf("refunded_amount_cents = %d, want 25000 after rejected refund", got.RefundedAmountCents)
	}
}

func TestApplyRefund_RequiresSucceeded(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	_, err := store.ApplyRefund(context.Background(), testOrgID, p.ID, 1000)
	if err == nil {
		t.Fatal("expected refund of pending payment to fail")
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
}

func TestGetByGatewayRef(t *testing.T) {
	store, _, b := newTestStore(t)
	p := createTestPayment(t, store, b, 50000)

	got, err := store.GetByGatewayRef(context.Background(), *p.GatewayReferenceID)
	if err != nil {
		t.Fatalf("GetByGatewayRef failed: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("payment ID = %q, want %q", got.ID, p.ID)
	}

	if _, err := store.GetByGatewayRef(context.Background(), "pi_unknown"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("unknown ref error = %v, want ErrPaymentNotFound", err)
	}
}

func TestListForBooking(t *testing.T) {
	store, _, b := newTestStore(t)
	createTestPayment(t, store, b, 50000)
	createTestPayment(t, store, b, 50000)

	payments, err := store.ListForBooking(context.Background(), testOrgID, b.ID)
	if err != nil {
		t.Fatalf("ListForBooking failed: %v", err)
	}
	if len(payments) != 2 {
		t.Errorf("len(payments) = %d, want 2", len(payments))
	}

	other, err := store.ListForBooking(context.Background(), "org-2", b.ID)
	if err != nil {
		t.Fatalf("ListForBooking failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("cross-tenant list returned %d payments, want 0", len(other))
	}
}
