package idempotency

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid key", "retry-abc-123", nil},
		{"valid uuid key", "550e8400-e29b-41d4-a716-446655440000", nil},
		{"empty key", "", ErrInvalidKey},
		{"key with spaces", "has space", ErrInvalidKey},
		{"key with control chars", "bad\nkey", ErrInvalidKey},
		{"key at max length", strings.Repeat("a", MaxKeyLength), nil},
		{"key too long", strings.Repeat("a", MaxKeyLength+1), ErrKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestRepository_StoreAndGet(t *testing.T) {
	repo := NewInMemoryRepository()

	record := &Key{
		Key:                "key-1",
		Method:             "POST",
		Route:              "/payments/intents",
		ResponseHash:       ComputeResponseHash(`{"ok":true}`),
		Status:             StatusCompleted,
		ResponseBody:       `{"ok":true}`,
		ResponseStatusCode: 201,
	}
	if err := repo.Store(record); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ResponseBody != record.ResponseBody {
		t.Errorf("ResponseBody = %q, want %q", got.ResponseBody, record.ResponseBody)
	}
	if got.ResponseStatusCode != 201 {
		t.Errorf("ResponseStatusCode = %d, want 201", got.ResponseStatusCode)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestRepository_DuplicateStore(t *testing.T) {
	repo := NewInMemoryRepository()

	record := &Key{Key: "key-1", Method: "POST", Route: "/payments/intents", Status: StatusCompleted}
	if err := repo.Store(record); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store(record); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate Store error = %v, want ErrKeyExists", err)
	}
}

func TestRepository_UpdateCompletesReservation(t *testing.T) {
	repo := NewInMemoryRepository()

	reservation := &Key{Key: "key-1", Method: "POST", Route: "/payments/intents", Status: StatusProcessing}
	if err := repo.Store(reservation); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	stored, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	reservation.Status = StatusCompleted
	reservation.ResponseBody = `{"ok":true}`
	reservation.ResponseStatusCode = 201
	if err := repo.Update(reservation); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.ResponseBody != `{"ok":true}` {
		t.Errorf("ResponseBody = %q, want cached body", got.ResponseBody)
	}
	if !got.CreatedAt.Equal(stored.CreatedAt) {
		t.Errorf("CreatedAt = %v, want reservation time %v preserved", got.CreatedAt, stored.CreatedAt)
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := NewInMemoryRepository()

	record := &Key{Key: "missing", Method: "POST", Route: "/payments/intents", Status: StatusCompleted}
	if err := repo.Update(record); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestRepository_Delete(t *testing.T) {
	repo := NewInMemoryRepository()

	record := &Key{Key: "key-1", Method: "POST", Route: "/payments/intents", Status: StatusProcessing}
	if err := repo.Store(record); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Delete("key-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Get("key-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrKeyNotFound", err)
	}

	// A released key can be reserved again.
	if err := repo.Store(record); err != nil {
		t.Errorf("Store after Delete failed: %v", err)
	}
	if err := repo.Delete("never-stored"); err != nil {
		t.Errorf("Delete of absent key = %v, want nil", err)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	repo := NewInMemoryRepository()

	old := &Key{Key: "old", Method: "POST", Route: "/payments/intents",
		Status: StatusCompleted, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Key{Key: "fresh", Method: "POST", Route: "/payments/intents",
		Status: StatusCompleted, CreatedAt: time.Now()}
	if err := repo.Store(old); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store(fresh); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	removed, err := repo.DeleteOlderThan(time.Now().Add(-DefaultExpiry))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := repo.Get("old"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("old key still present after cleanup: %v", err)
	}
	if _, err := repo.Get("fresh"); err != nil {
		t.Errorf("fresh key was removed: %v", err)
	}
}

func TestComputeResponseHash(t *testing.T) {
	a := ComputeResponseHash(`{"ok":true}`)
	b := ComputeResponseHash(`{"ok":true}`)
	c := ComputeResponseHash(`{"ok":false}`)

	if a != b {
		t.Error("same body produced different hashes")
	}
	if a == c {
		t.Error("different bodies produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
