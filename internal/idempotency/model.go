// Package idempotency provides storage for idempotency keys so retried
// payment requests replay the original response instead of re-executing
// gateway calls.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status represents the lifecycle state of an idempotency key.
type Status string

const (
	// StatusProcessing indicates the original request is still in flight.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the original request finished and its
	// response is cached.
	StatusCompleted Status = "completed"
)

// MaxKeyLength is the maximum allowed length of an idempotency key.
const MaxKeyLength = 64

var (
	// ErrKeyNotFound is returned when an idempotency key does not exist.
	ErrKeyNotFound = errors.New("idempotency key not found")
	// ErrKeyExists is returned when storing a key that already exists.
	ErrKeyExists = errors.New("idempotency key already exists")
	// ErrInvalidKey is returned for empty or malformed keys.
	ErrInvalidKey = errors.New("invalid idempotency key")
	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key too long")
)

// Key records a processed mutating request and its cached response.
type Key struct {
	Key                string
	Method             string
	Route              string
	PaymentID          *string
	ResponseHash       string
	Status             Status
	ResponseBody       string
	ResponseStatusCode int
	CreatedAt          time.Time
}

// ValidateKey checks that the key is non-empty, within the length limit,
// and contains only printable ASCII.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputeResponseHash returns the hex-encoded SHA-256 of a response body.
// Stored alongside the body so replays can be audited against tampering.
func ComputeResponseHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Repository defines storage operations for idempotency keys.
type Repository interface {
	// Get returns the record for a key, or ErrKeyNotFound.
	Get(key string) (*Key, error)
	// Store persists a new record. Returns ErrKeyExists if the key is
	// already present; the reservation flow relies on this to detect a
	// concurrent request holding the same key.
	Store(record *Key) error
	// Update replaces an existing record, keeping its CreatedAt.
	// Returns ErrKeyNotFound if the key is absent.
	Update(record *Key) error
	// Delete removes a record. Deleting an absent key is a no-op.
	Delete(key string) error
	// DeleteOlderThan removes records created before the cutoff and
	// returns how many were removed.
	DeleteOlderThan(cutoff time.Time) (int, error)
}
