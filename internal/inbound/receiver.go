// ABOUTME: HTTP listener that accepts messages from the remote service
// ABOUTME: Owns the server, bounds concurrent handlers and stops without a grace period

package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/2389/aether-bridge/internal/auth"
	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/host"
	"github.com/2389/aether-bridge/internal/store"
)

const (
	// SendPath is the authenticated ingress route.
	SendPath = "/api/send-to-mc"
	// Workers bounds concurrently running request handlers.
	Workers = 4
	// StopTimeout bounds how long Stop waits for running handlers.
	StopTimeout = 5 * time.Second
)

// ErrAlreadyStarted is returned by Start on a receiver that is listening.
var ErrAlreadyStarted = errors.New("receiver already started")

// ConfigSource supplies the current configuration snapshot.
type ConfigSource interface {
	Snapshot() *config.Config
}

// Receiver serves the inbound HTTP endpoint.
type Receiver struct {
	cfg     ConfigSource
	host    host.Host
	enabled func() bool
	journal store.EventStore
	logger  *slog.Logger

	slots   *semaphore.Weighted
	handler http.Handler

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New creates a receiver. enabled is consulted on every request; when it
// reports false the ingress route answers 503. journal may be nil.
func New(cfg ConfigSource, h host.Host, enabled func() bool, journal store.EventStore, logger *slog.Logger) *Receiver {
	r := &Receiver{
		cfg:     cfg,
		host:    h,
		enabled: enabled,
		journal: journal,
		logger:  logger.With("component", "inbound"),
		slots:   semaphore.NewWeighted(Workers),
	}
	r.handler = r.routes()
	return r
}

// Handler returns the receiver's HTTP handler.
func (r *Receiver) Handler() http.Handler {
	return r.handler
}

func (r *Receiver) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(r.limit)

	mux.With(
		r.requireEnabled,
		corsHeaders,
		preflight,
		r.journalOutcome,
		auth.RequireBearer(r.apiKey, r.logger),
	).HandleFunc(SendPath, r.handleSend)

	mux.NotFound(r.handleRoot)
	mux.MethodNotAllowed(r.handleRoot)
	return mux
}

func (r *Receiver) apiKey() string {
	return r.cfg.Snapshot().APIKey
}

// Start listens on every local address, both IP families, at port and
// serves in the background. A bind failure is returned and leaves the
// receiver stopped.
func (r *Receiver) Start(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.srv != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			r.logger.Error("port already in use, check listenPort or other programs", "port", port)
		}
		return fmt.Errorf("listening on port %d: %w", port, err)
	}

	srv := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(r.logger.Handler(), slog.LevelWarn),
	}
	r.srv = srv
	r.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	r.logger.Info("HTTP receiver listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil when not listening.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Stop closes the listener and open connections immediately, then waits up
// to StopTimeout for running handlers to return. Safe to call when not
// started.
func (r *Receiver) Stop() {
	r.mu.Lock()
	srv := r.srv
	r.srv = nil
	r.ln = nil
	r.mu.Unlock()

	if srv == nil {
		return
	}

	r.logger.Info("stopping HTTP receiver")
	if err := srv.Close(); err != nil {
		r.logger.Warn("closing HTTP server", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := r.slots.Acquire(ctx, Workers); err != nil {
		r.logger.Warn("request handlers still running after stop timeout", "timeout", StopTimeout)
		return
	}
	r.slots.Release(Workers)
	r.logger.Info("HTTP receiver stopped")
}

// limit runs at most Workers handlers at once; extra requests wait.
func (r *Receiver) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := r.slots.Acquire(req.Context(), 1); err != nil {
			return
		}
		defer r.slots.Release(1)
		next.ServeHTTP(w, req)
	})
}

// journalOutcome records the status the ingress route answered with.
func (r *Receiver) journalOutcome(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		kind := store.KindAccepted
		if status != http.StatusOK {
			kind = store.KindRejected
		}
		r.record(kind, req.RemoteAddr, status, "", "")
	})
}

// record journals one inbound outcome. Journal failures are only logged.
func (r *Receiver) record(kind store.Kind, remote string, status int, message, detail string) {
	if r.journal == nil {
		return
	}
	err := r.journal.AppendEvent(context.Background(), &store.Event{
		Direction: store.DirectionInbound,
		Kind:      kind,
		Status:    status,
		Sender:    remote,
		Message:   message,
		Detail:    detail,
	})
	if err != nil {
		r.logger.Debug("failed to journal inbound event", "kind", kind, "error", err)
	}
}
