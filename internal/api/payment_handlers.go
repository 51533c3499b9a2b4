package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/wheelhouse/rentpay/internal/booking"
	"github.com/wheelhouse/rentpay/internal/middleware"
	"github.com/wheelhouse/rentpay/internal/payment"
)

// maxBodyBytes caps request bodies. Payment requests are tiny; anything
// larger is a client bug.
const maxBodyBytes = 64 * 1024

// PaymentHandlers holds the dependencies for the payment endpoints.
type PaymentHandlers struct {
	service  *payment.Service
	bookings booking.Repository
}

// NewPaymentHandlers creates the payment endpoint handlers.
func NewPaymentHandlers(service *payment.Service, bookings booking.Repository) *PaymentHandlers {
	return &PaymentHandlers{service: service, bookings: bookings}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type createIntentRequest struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
}

// CreateIntent handles POST /payments/intents.
func (h *PaymentHandlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())

	var req createIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BookingID == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "booking_id is required")
		return
	}
	if req.AmountCents < 0 {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "amount_cents must not be negative")
		return
	}

	res, err := h.service.CreateIntent(r.Context(), orgID, payment.CreateIntentInput{
		BookingID:   req.BookingID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		CustomerID:  req.CustomerID,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, res)
}

type confirmRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// Confirm handles POST /payments/{id}/confirm. A declined charge is a
// successful request: the response is 200 with the payment in status failed
// and the decline reason attached.
func (h *PaymentHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	paymentID := r.PathValue("id")

	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PaymentMethod == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "payment_method is required")
		return
	}

	p, err := h.service.Confirm(r.Context(), orgID, paymentID, req.PaymentMethod)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]*payment.Payment{"payment": p})
}

// Cancel handles POST /payments/{id}/cancel.
func (h *PaymentHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	paymentID := r.PathValue("id")

	p, err := h.service.Cancel(r.Context(), orgID, paymentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]*payment.Payment{"payment": p})
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Refund handles POST /payments/{id}/refund. An omitted or zero amount
// refunds the full remaining balance.
func (h *PaymentHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	paymentID := r.PathValue("id")

	var req refundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AmountCents < 0 {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "amount_cents must not be negative")
		return
	}

	res, err := h.service.Refund(r.Context(), orgID, paymentID, req.AmountCents, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// Get handles GET /payments/{id}.
func (h *PaymentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	paymentID := r.PathValue("id")

	p, err := h.service.Get(r.Context(), orgID, paymentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]*payment.Payment{"payment": p})
}

// ListForBooking handles GET /bookings/{id}/payments.
func (h *PaymentHandlers) ListForBooking(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())
	bookingID := r.PathValue("id")

	if _, err := h.bookings.GetForOrg(r.Context(), orgID, bookingID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	payments, err := h.service.ListForBooking(r.Context(), orgID, bookingID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*payment.Payment{}
	}

	writeJSON(w, r, http.StatusOK, map[string][]*payment.Payment{"payments": payments})
}

type createBookingRequest struct {
	TotalCents int64 `json:"total_cents"`
}

// CreateBooking handles POST /bookings. The booking inventory itself lives
// upstream; this endpoint exists so deployments without that system can
// still create rows to charge against.
func (h *PaymentHandlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgID(r.Context())

	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TotalCents <= 0 {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "total_cents must be a positive integer")
		return
	}

	b := &booking.Booking{
		OrganizationID: orgID,
		TotalCents:     req.TotalCents,
	}
	if err := h.bookings.Insert(r.Context(), b); err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]*booking.Booking{"booking": b})
}
