package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository implements Repository with an in-memory map.
// Thread-safe for concurrent access.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*Key),
	}
}

// Get implements the Repository interface.
func (r *InMemoryRepository) Get(key string) (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *record
	return &cp, nil
}

// Store implements the Repository interface.
func (r *InMemoryRepository) Store(record *Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[record.Key]; ok {
		return ErrKeyExists
	}

	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.keys[record.Key] = &cp
	return nil
}

// Update implements the Repository interface.
func (r *InMemoryRepository) Update(record *Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[record.Key]
	if !ok {
		return ErrKeyNotFound
	}

	cp := *record
	cp.CreatedAt = existing.CreatedAt
	r.keys[record.Key] = &cp
	return nil
}

// Delete implements the Repository interface.
func (r *InMemoryRepository) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.keys, key)
	return nil
}

// DeleteOlderThan implements the Repository interface.
func (r *InMemoryRepository) DeleteOlderThan(cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, k)
			removed++
		}
	}
	return removed, nil
}
