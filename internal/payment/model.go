// Package payment implements the payment lifecycle for rental bookings:
// intent creation, confirmation, cancellation and refunds against an
// external gateway, with a persisted Payment record per attempt.
package payment

import "time"

// Payment status values. A payment moves pending -> processing -> succeeded
// and from succeeded to refunded; failed and refunded are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

// Payment represents a single charge attempt against a booking.
// AmountCents and OrganizationID are fixed at creation. Rows are never
// deleted; a booking may accumulate several payments over its lifetime
// (e.g. retried intents), but at most one of them confirms the booking.
type Payment struct {
	ID                  string     `json:"id"`
	BookingID           string     `json:"booking_id"`
	OrganizationID      string     `json:"organization_id"`
	AmountCents         int64      `json:"amount_cents"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	GatewayReferenceID  *string    `json:"gateway_reference_id,omitempty"`
	GatewayCustomerID   *string    `json:"gateway_customer_id,omitempty"`
	PaymentMethodLabel  *string    `json:"payment_method_label,omitempty"`
	FailureReason       *string    `json:"failure_reason,omitempty"`
	RefundedAmountCents int64      `json:"refunded_amount_cents"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// RemainingCents returns the amount still refundable on this payment.
func (p *Payment) RemainingCents() int64 {
	return p.AmountCents - p.RefundedAmountCents
}

// IsTerminal reports whether no further transitions are allowed.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusFailed || p.Status == StatusRefunded
}

// FailureReasonCanceled is recorded when a payment is canceled by the caller
// rather than declined by the gateway.
const FailureReasonCanceled = "Canceled by user"
