// ABOUTME: Tests for the outbound sender
// ABOUTME: Uses an httptest endpoint and a fake scheduler so retries need no real delay

package outbound

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/store"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Snapshot() *config.Config { return s.cfg }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScheduler fires every scheduled call right away on its own goroutine
// and remembers the requested delays.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return false }

func (f *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	go fn()
	return fakeTimer{}
}

func (f *fakeScheduler) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// heldScheduler keeps scheduled calls until the test fires or stops them.
type heldScheduler struct {
	mu     sync.Mutex
	timers []*heldTimer
}

type heldTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func (t *heldTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (h *heldScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &heldTimer{fn: fn}
	h.mu.Lock()
	h.timers = append(h.timers, t)
	h.mu.Unlock()
	return t
}

func (h *heldScheduler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// endpoint answers with statuses in order, repeating the last one.
type endpoint struct {
	srv      *httptest.Server
	attempts atomic.Int32

	mu       sync.Mutex
	statuses []int
	bodies   []Record
	headers  []http.Header
}

func newEndpoint(t *testing.T, statuses ...int) *endpoint {
	t.Helper()
	e := &endpoint{statuses: statuses}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(e.attempts.Add(1))

		var rec Record
		_ = json.NewDecoder(r.Body).Decode(&rec)

		e.mu.Lock()
		e.bodies = append(e.bodies, rec)
		e.headers = append(e.headers, r.Header.Clone())
		idx := n - 1
		if idx >= len(e.statuses) {
			idx = len(e.statuses) - 1
		}
		status := e.statuses[idx]
		e.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func newTestSender(t *testing.T, url string, sched Scheduler, journal store.EventStore) *Sender {
	t.Helper()
	cfg := config.Default()
	cfg.APIURL = url
	cfg.APIKey = "test-key"
	s := New(staticConfig{cfg}, testLogger(), Options{
		Scheduler: sched,
		Journal:   journal,
	})
	t.Cleanup(s.Shutdown)
	return s
}

// waitForKind blocks until the journal holds an event of the given kind.
func waitForKind(t *testing.T, journal store.EventStore, kind store.Kind) {
	t.Helper()
	require.Eventually(t, func() bool {
		events, err := journal.ListEvents(context.Background(), store.EventFilter{Kind: &kind})
		return err == nil && len(events) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSender_DeliversOnFirstAttempt(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	journal := store.NewMemoryStore()
	s := newTestSender(t, ep.srv.URL, &fakeScheduler{}, journal)
	s.Start()

	s.Send(Message{SenderID: "uuid-1", SenderName: "Steve", Body: "hello", Prefix: "Game"})

	waitForKind(t, journal, store.KindDelivered)
	assert.Equal(t, int32(1), ep.attempts.Load())

	ep.mu.Lock()
	defer ep.mu.Unlock()
	assert.Equal(t, Record{PlayerID: "uuid-1", PlayerName: "Steve", Message: "hello", Prefix: "Game"}, ep.bodies[0])
	h := ep.headers[0]
	assert.Equal(t, "application/json; charset=utf-8", h.Get("Content-Type"))
	assert.Equal(t, "Bearer test-key", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Accept"))
}

func TestSender_RetriesThenSucceeds(t *testing.T) {
	for n := 1; n <= MaxRetries; n++ {
		statuses := make([]int, 0, n+1)
		for i := 0; i < n; i++ {
			statuses = append(statuses, http.StatusServiceUnavailable)
		}
		statuses = append(statuses, http.StatusOK)

		ep := newEndpoint(t, statuses...)
		journal := store.NewMemoryStore()
		sched := &fakeScheduler{}
		s := newTestSender(t, ep.srv.URL, sched, journal)
		s.Start()

		s.Send(Message{SenderName: "Alex", Body: "retry me"})

		waitForKind(t, journal, store.KindDelivered)
		s.Shutdown()

		assert.Equal(t, int32(n+1), ep.attempts.Load(), "n=%d", n)
		delays := sched.Delays()
		assert.Len(t, delays, n)
		for _, d := range delays {
			assert.Equal(t, RetryDelay, d)
		}
	}
}

func TestSender_RetryExhaustion(t *testing.T) {
	ep := newEndpoint(t, http.StatusGatewayTimeout)
	journal := store.NewMemoryStore()
	s := newTestSender(t, ep.srv.URL, &fakeScheduler{}, journal)
	s.Start()

	s.Send(Message{SenderName: "Alex", Body: "never arrives"})

	waitForKind(t, journal, store.KindFailed)
	// Give a stray retry the chance to show up.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1+MaxRetries), ep.attempts.Load())

	retry := store.KindRetry
	retries, err := journal.ListEvents(context.Background(), store.EventFilter{Kind: &retry})
	require.NoError(t, err)
	assert.Len(t, retries, MaxRetries)

	failed := store.KindFailed
	events, err := journal.ListEvents(context.Background(), store.EventFilter{Kind: &failed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].Attempt)
	assert.Equal(t, http.StatusGatewayTimeout, events[0].Status)
}

func TestSender_TerminalStatusesAreNotRetried(t *testing.T) {
	// 201 is deliberately a failure: only 200 counts as delivered.
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError, http.StatusCreated, http.StatusNoContent} {
		ep := newEndpoint(t, status)
		journal := store.NewMemoryStore()
		s := newTestSender(t, ep.srv.URL, &fakeScheduler{}, journal)
		s.Start()

		s.Send(Message{SenderName: "Alex", Body: "x"})

		waitForKind(t, journal, store.KindFailed)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), ep.attempts.Load(), "status %d", status)
	}
}

func TestSender_TransportErrorIsRetried(t *testing.T) {
	// Closed server: every attempt fails at the transport level.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	journal := store.NewMemoryStore()
	sched := &fakeScheduler{}
	s := newTestSender(t, url, sched, journal)
	s.Start()

	s.Send(Message{SenderName: "Alex", Body: "x"})

	waitForKind(t, journal, store.KindFailed)
	assert.Len(t, sched.Delays(), MaxRetries)
}

func TestSender_DisabledSendIsNoop(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	journal := store.NewMemoryStore()
	s := newTestSender(t, ep.srv.URL, &fakeScheduler{}, journal)

	// Never started.
	s.Send(Message{SenderName: "Alex", Body: "x"})
	waitForKind(t, journal, store.KindDropped)
	assert.Equal(t, int32(0), ep.attempts.Load())
	assert.False(t, s.Running())
}

func TestSender_ShutdownCancelsPendingRetries(t *testing.T) {
	ep := newEndpoint(t, http.StatusTooManyRequests)
	journal := store.NewMemoryStore()
	sched := &heldScheduler{}
	s := newTestSender(t, ep.srv.URL, sched, journal)
	s.Start()

	s.Send(Message{SenderName: "Alex", Body: "x"})
	waitForKind(t, journal, store.KindRetry)
	require.Eventually(t, func() bool { return sched.Pending() == 1 }, time.Second, 5*time.Millisecond)

	s.Shutdown()

	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, int32(1), ep.attempts.Load())
	assert.False(t, s.Running())
}

func TestSender_ShutdownIsIdempotent(t *testing.T) {
	s := New(staticConfig{config.Default()}, testLogger(), Options{})

	// Never started.
	assert.NotPanics(t, s.Shutdown)
	assert.NotPanics(t, s.Shutdown)

	// Start after shutdown stays stopped.
	s.Start()
	assert.False(t, s.Running())
}

func TestSender_ShutdownAfterStart(t *testing.T) {
	s := New(staticConfig{config.Default()}, testLogger(), Options{})
	s.Start()
	assert.True(t, s.Running())

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("shutdown did not return")
	}
	assert.False(t, s.Running())
}

func TestSender_ShutdownAbortsSlowRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := config.Default()
	cfg.APIURL = srv.URL
	journal := store.NewMemoryStore()
	s := New(staticConfig{cfg}, testLogger(), Options{
		Journal:         journal,
		Scheduler:       &fakeScheduler{},
		ShutdownTimeout: 50 * time.Millisecond,
	})
	s.Start()
	s.Send(Message{SenderName: "Alex", Body: "slow"})

	// Let the request reach the server.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	s.Shutdown()
	assert.Less(t, time.Since(start), 2*time.Second)

	waitForKind(t, journal, store.KindFailed)
}
