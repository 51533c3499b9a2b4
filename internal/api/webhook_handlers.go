package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/wheelhouse/rentpay/internal/payment"
)

// maxWebhookBodyBytes caps webhook payloads, matching Stripe's own limit.
const maxWebhookBodyBytes = 256 * 1024

// WebhookHandlers receives asynchronous gateway events and feeds them into
// the lifecycle service. Delivery is at least once; processed event IDs are
// recorded so a redelivered event acknowledges without reapplying.
type WebhookHandlers struct {
	service       *payment.Service
	events        payment.WebhookRepository
	webhookSecret string
}

// NewWebhookHandlers creates the webhook endpoint handlers. An empty secret
// disables signature verification; only the simulated gateway runs without
// one.
func NewWebhookHandlers(service *payment.Service, events payment.WebhookRepository, webhookSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		service:       service,
		events:        events,
		webhookSecret: webhookSecret,
	}
}

// HandleGatewayWebhook handles POST /internal/gateway/webhook.
func (h *WebhookHandlers) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "failed to read request body")
		return
	}

	if h.webhookSecret != "" {
		h.handleStripeEvent(w, r, body)
		return
	}
	h.handleSimulatedEvent(w, r, body)
}

// handleStripeEvent verifies the Stripe signature and normalizes the event.
func (h *WebhookHandlers) handleStripeEvent(w http.ResponseWriter, r *http.Request, body []byte) {
	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		slog.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid webhook signature")
		return
	}

	if done := h.alreadyProcessed(w, r, event.ID); done {
		return
	}

	ev, ok, err := normalizeStripeEvent(event)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to parse webhook event object",
			"event_id", event.ID, "event_type", string(event.Type), "error", err)
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "malformed event object")
		return
	}
	if !ok {
		// Unhandled event type; acknowledge so the gateway stops resending.
		h.ack(w, r, event.ID, string(event.Type))
		return
	}

	h.apply(w, r, event.ID, ev)
}

// normalizeStripeEvent extracts the fields the state machine needs. The
// second return is false for event types this service does not handle.
func normalizeStripeEvent(event stripe.Event) (payment.GatewayEvent, bool, error) {
	switch string(event.Type) {
	case payment.EventIntentSucceeded, payment.EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return payment.GatewayEvent{}, false, err
		}
		ev := payment.GatewayEvent{
			Type:       string(event.Type),
			GatewayRef: pi.ID,
		}
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			ev.FailureReason = pi.LastPaymentError.Msg
		}
		return ev, true, nil

	case payment.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return payment.GatewayEvent{}, false, err
		}
		ev := payment.GatewayEvent{
			Type:               string(event.Type),
			RefundedTotalCents: ch.AmountRefunded,
		}
		if ch.PaymentIntent != nil {
			ev.GatewayRef = ch.PaymentIntent.ID
		}
		return ev, true, nil
	}

	return payment.GatewayEvent{}, false, nil
}

// simulatedEvent is the envelope the simulated gateway delivers.
type simulatedEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *WebhookHandlers) handleSimulatedEvent(w http.ResponseWriter, r *http.Request, body []byte) {
	var event simulatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	if event.ID == "" || event.Type == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidationError, "event id and type are required")
		return
	}

	if done := h.alreadyProcessed(w, r, event.ID); done {
		return
	}

	if err := h.service.HandleWebhook(r.Context(), event.Type, event.Data); err != nil {
		h.writeApplyError(w, r, event.ID, event.Type, err)
		return
	}
	h.ack(w, r, event.ID, event.Type)
}

func (h *WebhookHandlers) apply(w http.ResponseWriter, r *http.Request, eventID string, ev payment.GatewayEvent) {
	if err := h.service.ApplyGatewayEvent(r.Context(), ev); err != nil {
		h.writeApplyError(w, r, eventID, ev.Type, err)
		return
	}
	h.ack(w, r, eventID, ev.Type)
}

// writeApplyError decides the acknowledgement for a failed event. Unknown
// gateway references are acknowledged: the event likely belongs to an intent
// created outside this service, and redelivery would never change that.
// Everything else is a 500 so the gateway retries.
func (h *WebhookHandlers) writeApplyError(w http.ResponseWriter, r *http.Request, eventID, eventType string, err error) {
	if errors.Is(err, payment.ErrPaymentNotFound) {
		slog.WarnContext(r.Context(), "webhook event for unknown payment",
			"event_id", eventID, "event_type", eventType)
		h.ack(w, r, eventID, eventType)
		return
	}

	slog.ErrorContext(r.Context(), "failed to apply webhook event",
		"event_id", eventID, "event_type", eventType, "error", err)
	WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to process event")
}

// alreadyProcessed acknowledges duplicates. Returns true when the response
// has been written.
func (h *WebhookHandlers) alreadyProcessed(w http.ResponseWriter, r *http.Request, eventID string) bool {
	processed, err := h.events.HasProcessed(eventID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to check webhook event", "event_id", eventID, "error", err)
		WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to process event")
		return true
	}
	if processed {
		slog.InfoContext(r.Context(), "duplicate webhook event acknowledged", "event_id", eventID)
		writeJSON(w, r, http.StatusOK, map[string]bool{"received": true})
		return true
	}
	return false
}

// ack records the event as processed and acknowledges it. Recording happens
// after a successful apply so a crash mid-processing still gets a redelivery.
func (h *WebhookHandlers) ack(w http.ResponseWriter, r *http.Request, eventID, eventType string) {
	if err := h.events.RecordEvent(eventID, eventType); err != nil && !errors.Is(err, payment.ErrEventAlreadyProcessed) {
		slog.ErrorContext(r.Context(), "failed to record webhook event", "event_id", eventID, "error", err)
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
