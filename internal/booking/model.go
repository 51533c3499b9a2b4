// Package booking provides the booking collaborator consumed by the payment
// lifecycle. Bookings are owned elsewhere; this package only exposes the
// fields and transitions payments depend on.
package booking

import "time"

// Booking status values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Booking holds the slice of a rental booking the payment engine reads and
// mutates. Status and DepositPaidAt are only written as side effects of
// payment transitions.
type Booking struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	TotalCents     int64      `json:"total_cents"`
	Status         string     `json:"status"`
	DepositPaidAt  *time.Time `json:"deposit_paid_at,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}
