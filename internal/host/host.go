// ABOUTME: Host adapter boundary between the bridge and the application it serves
// ABOUTME: Defines chat events, the delivery surface and the designated execution context

package host

import (
	"errors"
)

var (
	// ErrNotRunning is returned by Execute when the host loop is not running.
	ErrNotRunning = errors.New("host not running")

	// ErrBusy is returned by Execute when the task queue is full.
	ErrBusy = errors.New("host task queue full")
)

// ChatEvent is a chat message produced inside the host.
type ChatEvent struct {
	SenderID   string // opaque identity, empty when unknown
	SenderName string
	Text       string
}

// ChatListener receives chat events on the host's execution context.
type ChatListener func(ChatEvent)

// Host is the application the bridge is attached to.
//
// Broadcast touches host state and must only be called from a task passed to
// Execute. Listeners registered with OnChat cannot be removed; callers that
// need to stop reacting must guard the listener body themselves.
type Host interface {
	// Running reports whether the host is accepting work.
	Running() bool
	// Execute queues task for the host's designated goroutine. It never
	// blocks waiting for the task to run.
	Execute(task func()) error
	// Broadcast shows text to everyone attached to the host.
	Broadcast(text string)
	// OnChat registers a chat listener for the host's lifetime.
	OnChat(l ChatListener)
}
