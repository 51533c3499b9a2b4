package gateway

import (
	"context"
	"errors"
	"testing"
)

func createSimIntent(t *testing.T, c *SimulatedClient, amount int64) *Intent {
	t.Helper()

	intent, err := c.CreateIntent(context.Background(), CreateIntentParams{
		AmountCents: amount,
		Currency:    "usd",
	})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	return intent
}

func TestSimulatedClient_ConfirmOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		paymentMethod string
		wantOutcome   Outcome
		wantReason    string
	}{
		{"ok token succeeds", SimMethodOK, OutcomeSucceeded, ""},
		{"processing token stays processing", SimMethodProcessing, OutcomeProcessing, ""},
		{"declined token carries reason", SimMethodDeclinedPrefix + "_insufficient_funds", OutcomeDeclined, "insufficient_funds"},
		{"bare declined token gets generic reason", SimMethodDeclinedPrefix, OutcomeDeclined, "card_declined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSimulatedClient()
			intent := createSimIntent(t, c, 10000)

			res, err := c.ConfirmIntent(context.Background(), intent.ID, tt.paymentMethod)
			if err != nil {
				t.Fatalf("ConfirmIntent failed: %v", err)
			}
			if res.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", res.Outcome, tt.wantOutcome)
			}
			if res.DeclineReason != tt.wantReason {
				t.Errorf("decline reason = %q, want %q", res.DeclineReason, tt.wantReason)
			}
		})
	}
}

func TestSimulatedClient_UnreachableIsRetryable(t *testing.T) {
	c := NewSimulatedClient()
	intent := createSimIntent(t, c, 10000)

	_, err := c.ConfirmIntent(context.Background(), intent.ID, SimMethodUnreachable)
	if err == nil {
		t.Fatal("expected error for unreachable method")
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestSimulatedClient_UnknownIntent(t *testing.T) {
	c := NewSimulatedClient()

	_, err := c.ConfirmIntent(context.Background(), "sim_pi_missing", SimMethodOK)
	if !errors.Is(err, ErrSimIntentNotFound) {
		t.Errorf("error = %v, want ErrSimIntentNotFound", err)
	}
	if IsRetryable(err) {
		t.Error("unknown intent must not be retryable")
	}
}

func TestSimulatedClient_CanceledIntentCannotConfirm(t *testing.T) {
	c := NewSimulatedClient()
	intent := createSimIntent(t, c, 10000)

	if err := c.CancelIntent(context.Background(), intent.ID); err != nil {
		t.Fatalf("CancelIntent failed: %v", err)
	}
	if _, err := c.ConfirmIntent(context.Background(), intent.ID, SimMethodOK); err == nil {
		t.Error("expected confirm of canceled intent to fail")
	}
}

func TestSimulatedClient_RefundCap(t *testing.T) {
	c := NewSimulatedClient()
	intent := createSimIntent(t, c, 10000)

	if _, err := c.CreateRefund(context.Background(), RefundParams{IntentID: intent.ID, AmountCents: 6000}); err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	if _, err := c.CreateRefund(context.Background(), RefundParams{IntentID: intent.ID, AmountCents: 5000}); err == nil {
		t.Error("expected refund past the charge to fail")
	}
	if _, err := c.CreateRefund(context.Background(), RefundParams{IntentID: intent.ID, AmountCents: 4000}); err != nil {
		t.Errorf("refund up to the charge failed: %v", err)
	}
}

func TestSimulatedClient_WebhookSink(t *testing.T) {
	c := NewSimulatedClient()

	var gotEvent string
	var gotPayload []byte
	c.SetWebhookSink(func(ctx context.Context, event string, payload []byte) error {
		gotEvent = event
		gotPayload = payload
		return nil
	})

	payload := []byte(`{"gateway_ref":"sim_pi_1"}`)
	if err := c.SimulateWebhook(context.Background(), "payment_intent.succeeded", payload); err != nil {
		t.Fatalf("SimulateWebhook failed: %v", err)
	}
	if gotEvent != "payment_intent.succeeded" {
		t.Errorf("event = %q, want payment_intent.succeeded", gotEvent)
	}
	if string(gotPayload) != string(payload) {
		t.Errorf("payload = %s, want %s", gotPayload, payload)
	}
}

func TestSimulatedClient_WebhookWithoutSink(t *testing.T) {
	c := NewSimulatedClient()
	if err := c.SimulateWebhook(context.Background(), "payment_intent.succeeded", nil); err == nil {
		t.Error("expected error when no sink registered")
	}
}
