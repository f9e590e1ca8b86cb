// ABOUTME: In-memory EventStore implementation
// ABOUTME: Used for ":memory:" journals and by tests that don't need SQLite

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory EventStore. Events are kept in insertion order
// and lost on Close.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	byID   map[string]int // event ID -> index into events
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]int),
	}
}

// AppendEvent stores a copy of e.
func (m *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[e.ID] = len(m.events)
	m.events = append(m.events, *e)
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := m.events[idx]
	return &result, nil
}

// ListEvents returns events matching the filter, newest first.
func (m *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	limit := normalizeLimit(f.Limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []Event{}
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.events[i]
		if f.Direction != nil && e.Direction != *f.Direction {
			continue
		}
		if f.Kind != nil && e.Kind != *f.Kind {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// Close drops all stored events.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.byID = make(map[string]int)
	return nil
}
