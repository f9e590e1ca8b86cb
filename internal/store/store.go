// ABOUTME: Journal event types and the EventStore interface for aether-bridge
// ABOUTME: Records outbound delivery attempts and inbound request outcomes

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MemoryPath selects the in-memory journal instead of a SQLite file.
const MemoryPath = ":memory:"

// Direction says which channel produced an event.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Kind is the outcome recorded by an event.
type Kind string

const (
	// Outbound
	KindDelivered Kind = "delivered" // remote endpoint answered 200 / message broadcast in host
	KindRetry     Kind = "retry"     // retryable failure, another attempt scheduled
	KindFailed    Kind = "failed"    // terminal failure or retries exhausted

	// Shared
	KindDropped Kind = "dropped" // discarded before delivery (disabled, queue full, too long, host down)

	// Inbound
	KindAccepted Kind = "accepted" // 200 returned to the caller
	KindRejected Kind = "rejected" // non-200 returned to the caller
)

// Event is a single journal entry.
type Event struct {
	ID        string
	Direction Direction
	Kind      Kind
	Attempt   int    // 1-based outbound attempt number, 0 for inbound
	Status    int    // HTTP status involved, 0 if none
	Sender    string // player name (outbound) or remote address (inbound)
	Message   string
	Detail    string
	Timestamp time.Time
}

// EventFilter specifies filtering options for listing events.
type EventFilter struct {
	Direction *Direction
	Kind      *Kind
	Since     *time.Time
	Limit     int // max results (default 100, max 1000)
}

// EventStore is the journal persistence interface.
type EventStore interface {
	// AppendEvent stores e, generating ID and Timestamp if unset.
	AppendEvent(ctx context.Context, e *Event) error
	// GetEvent returns the event with the given ID or ErrNotFound.
	GetEvent(ctx context.Context, id string) (*Event, error)
	// ListEvents returns matching events, newest first.
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	Close() error
}

// Open returns the journal for path: an in-memory store for MemoryPath or
// an empty path, otherwise a SQLite database at path.
func Open(path string) (EventStore, error) {
	if path == "" || strings.EqualFold(path, MemoryPath) {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
