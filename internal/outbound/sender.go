// ABOUTME: Asynchronous sender that forwards chat messages to the remote endpoint
// ABOUTME: Fixed worker pool, bounded retry via scheduled jobs, and bounded shutdown

package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/store"
)

const (
	// DefaultWorkers is the size of the delivery pool.
	DefaultWorkers = 3
	// DefaultQueueSize bounds messages waiting for a worker.
	DefaultQueueSize = 256
	// RequestTimeout bounds a single POST.
	RequestTimeout = 10 * time.Second
	// ShutdownTimeout bounds how long Shutdown waits for workers.
	ShutdownTimeout = 5 * time.Second
)

// ErrQueueFull is recorded when a message is dropped because every worker
// is busy and the queue is at capacity.
var ErrQueueFull = errors.New("outbound queue full")

// ConfigSource supplies the current configuration snapshot.
type ConfigSource interface {
	Snapshot() *config.Config
}

// Options tunes a Sender. Zero values select the defaults.
type Options struct {
	Client          *http.Client
	Scheduler       Scheduler
	Journal         store.EventStore
	Workers         int
	QueueSize       int
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
}

// job is one message and its retry state. url and key are captured when the
// message is submitted so every attempt sends the same request.
type job struct {
	msg     Message
	body    []byte
	url     string
	key     string
	attempt int // attempts made so far
}

// Sender forwards messages on a fixed pool of workers. The zero value is not
// usable; construct with New.
type Sender struct {
	cfg       ConfigSource
	client    *http.Client
	scheduler Scheduler
	journal   store.EventStore
	logger    *slog.Logger

	workers         int
	retryDelay      time.Duration
	shutdownTimeout time.Duration

	jobs   chan *job
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	startOne sync.Once
	stopOne  sync.Once

	mu      sync.Mutex
	stopped bool
	nextID  uint64
	timers  map[uint64]Timer
}

// New creates a Sender. It does nothing until Start.
func New(cfg ConfigSource, logger *slog.Logger, opts Options) *Sender {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: RequestTimeout}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler{}
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = RetryDelay
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		cfg:             cfg,
		client:          opts.Client,
		scheduler:       opts.Scheduler,
		journal:         opts.Journal,
		logger:          logger.With("component", "outbound"),
		workers:         opts.Workers,
		retryDelay:      opts.RetryDelay,
		shutdownTimeout: opts.ShutdownTimeout,
		jobs:            make(chan *job, opts.QueueSize),
		quit:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		timers:          make(map[uint64]Timer),
	}
}

// Start launches the worker pool. Calling it again, or after Shutdown, has
// no effect.
func (s *Sender) Start() {
	s.startOne.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
		s.running.Store(true)
		s.logger.Info("outbound sender started", "workers", s.workers)
	})
}

// Running reports whether the sender accepts messages.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Send queues msg for delivery and returns immediately. Failures are logged
// and journaled, never returned.
func (s *Sender) Send(msg Message) {
	if !s.running.Load() {
		s.logger.Warn("sender disabled, dropping message", "player", msg.SenderName)
		s.record(store.KindDropped, msg, 0, 0, "sender disabled")
		return
	}

	body, err := Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", "error", err)
		s.record(store.KindDropped, msg, 0, 0, err.Error())
		return
	}

	cfg := s.cfg.Snapshot()
	s.enqueue(&job{
		msg:  msg,
		body: body,
		url:  cfg.APIURL,
		key:  cfg.APIKey,
	})
}

// enqueue hands j to the workers without blocking.
func (s *Sender) enqueue(j *job) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.logger.Warn("sender stopped, dropping message", "player", j.msg.SenderName, "attempts", j.attempt)
		s.record(store.KindDropped, j.msg, j.attempt, 0, "sender stopped")
		return
	}

	select {
	case s.jobs <- j:
	default:
		s.logger.Error("outbound queue full, dropping message", "player", j.msg.SenderName, "capacity", cap(s.jobs))
		s.record(store.KindDropped, j.msg, j.attempt, 0, ErrQueueFull.Error())
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.process(j)
		case <-s.quit:
			// Finish what is already queued, then exit.
			for {
				select {
				case j := <-s.jobs:
					s.process(j)
				default:
					return
				}
			}
		}
	}
}

// process makes one attempt and decides what happens next.
func (s *Sender) process(j *job) {
	j.attempt++
	status, err := s.post(j)

	if err != nil && s.ctx.Err() != nil {
		s.logger.Warn("sender shut down during attempt, abandoning message", "player", j.msg.SenderName, "attempt", j.attempt)
		s.record(store.KindFailed, j.msg, j.attempt, status, "abandoned at shutdown")
		return
	}

	outcome := Classify(status, err)
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	switch outcome {
	case OutcomeDelivered:
		s.logger.Debug("message delivered", "player", j.msg.SenderName, "attempt", j.attempt)
		s.record(store.KindDelivered, j.msg, j.attempt, status, "")

	case OutcomeRetryable:
		if j.attempt > MaxRetries {
			s.logger.Error("giving up on message after retries",
				"player", j.msg.SenderName,
				"attempts", j.attempt,
				"status", status,
				"error", err,
			)
			s.record(store.KindFailed, j.msg, j.attempt, status, fmt.Sprintf("retries exhausted: %s", describe(status, err)))
			return
		}
		s.logger.Warn("send failed, retrying",
			"player", j.msg.SenderName,
			"status", status,
			"error", err,
			"delay", s.retryDelay,
			"retry", fmt.Sprintf("%d/%d", j.attempt, MaxRetries),
		)
		s.record(store.KindRetry, j.msg, j.attempt, status, detail)
		s.scheduleRetry(j)

	case OutcomeTerminal:
		s.logger.Error("remote endpoint rejected message", "player", j.msg.SenderName, "status", status)
		s.record(store.KindFailed, j.msg, j.attempt, status, describe(status, err))
	}
}

func describe(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", status)
}

// post performs one HTTP attempt and returns the status code.
func (s *Sender) post(j *job) (int, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, j.url, bytes.NewReader(j.body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+j.key)
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("sending message", "url", j.url, "player", j.msg.SenderName, "attempt", j.attempt)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// scheduleRetry re-enqueues j after the retry delay. The timer is tracked so
// Shutdown can cancel it.
func (s *Sender) scheduleRetry(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("sender stopped, not retrying", "player", j.msg.SenderName)
		s.record(store.KindDropped, j.msg, j.attempt, 0, "sender stopped")
		return
	}

	s.nextID++
	id := s.nextID
	s.timers[id] = s.scheduler.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.enqueue(j)
	})
}

// Shutdown stops accepting messages, cancels pending retries, lets workers
// finish queued work for up to the shutdown timeout and then aborts in-flight
// requests. It is idempotent and safe on a sender that was never started.
func (s *Sender) Shutdown() {
	s.stopOne.Do(func() {
		s.running.Store(false)

		s.mu.Lock()
		s.stopped = true
		pending := 0
		for id, t := range s.timers {
			if t.Stop() {
				pending++
			}
			delete(s.timers, id)
		}
		s.mu.Unlock()
		if pending > 0 {
			s.logger.Warn("cancelled pending retries", "count", pending)
		}

		close(s.quit)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("outbound sender stopped")
		case <-time.After(s.shutdownTimeout):
			s.logger.Warn("outbound workers did not finish in time, aborting in-flight requests", "timeout", s.shutdownTimeout)
		}
		s.cancel()
	})
}

// record journals one outcome. Journal failures are only logged.
func (s *Sender) record(kind store.Kind, msg Message, attempt, status int, detail string) {
	if s.journal == nil {
		return
	}
	err := s.journal.AppendEvent(context.Background(), &store.Event{
		Direction: store.DirectionOutbound,
		Kind:      kind,
		Attempt:   attempt,
		Status:    status,
		Sender:    msg.SenderName,
		Message:   msg.Body,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Debug("failed to journal outbound event", "kind", kind, "error", err)
	}
}
