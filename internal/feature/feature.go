// ABOUTME: The closed set of bridge features and their start/stop routines
// ABOUTME: Sender owns an outbound worker pool, receiver owns the HTTP listener

package feature

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/host"
	"github.com/2389/aether-bridge/internal/inbound"
	"github.com/2389/aether-bridge/internal/outbound"
	"github.com/2389/aether-bridge/internal/store"
)

// ID identifies a feature. Values match the keys under "features" in the
// config file.
type ID string

const (
	Sender   ID = config.FeatureMessageSender
	Receiver ID = config.FeatureMessageReceiver
)

// IDs lists every feature in display order.
var IDs = []ID{Sender, Receiver}

// ErrUnknownFeature is returned for an ID outside IDs.
var ErrUnknownFeature = errors.New("unknown feature")

// ParseID validates a feature name.
func ParseID(s string) (ID, error) {
	for _, id := range IDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

// Description is a one-line summary for listings.
func (id ID) Description() string {
	switch id {
	case Sender:
		return "forward host chat to the remote endpoint"
	case Receiver:
		return "accept remote messages and broadcast them in the host"
	default:
		return ""
	}
}

// ConfigSource supplies the current configuration snapshot.
type ConfigSource interface {
	Snapshot() *config.Config
}

// Deps are the collaborators shared by every feature instance.
type Deps struct {
	Config  ConfigSource
	Host    host.Host
	Journal store.EventStore // optional
	Logger  *slog.Logger

	// SenderOptions is passed to every outbound sender the sender feature
	// creates.
	SenderOptions outbound.Options
}

// Feature is one independently toggled channel. The set is closed: only
// this package implements it. Enabled is safe from any goroutine; enable and
// disable are serialized by the Manager.
type Feature interface {
	ID() ID
	Enabled() bool

	enable() error
	disable() error
}

// senderFeature forwards host chat through an outbound.Sender.
//
// Host chat listeners cannot be removed, so the listener is registered once
// per instance and guarded by the enabled flag. Hot reload discards the
// instance to get rid of it for good.
type senderFeature struct {
	deps   Deps
	logger *slog.Logger

	enabled  atomic.Bool
	sender   atomic.Pointer[outbound.Sender]
	listenOnce sync.Once
}

func newSenderFeature(deps Deps) *senderFeature {
	return &senderFeature{
		deps:   deps,
		logger: deps.Logger.With("feature", string(Sender)),
	}
}

func (f *senderFeature) ID() ID        { return Sender }
func (f *senderFeature) Enabled() bool { return f.enabled.Load() }

func (f *senderFeature) enable() error {
	opts := f.deps.SenderOptions
	if opts.Journal == nil {
		opts.Journal = f.deps.Journal
	}
	s := outbound.New(f.deps.Config, f.deps.Logger, opts)
	s.Start()
	f.sender.Store(s)

	f.listenOnce.Do(func() {
		f.deps.Host.OnChat(f.onChat)
	})

	f.enabled.Store(true)
	f.logger.Info("forwarding chat", "url", f.deps.Config.Snapshot().APIURL)
	return nil
}

func (f *senderFeature) disable() error {
	f.enabled.Store(false)
	if s := f.sender.Swap(nil); s != nil {
		s.Shutdown()
	}
	return nil
}

func (f *senderFeature) onChat(ev host.ChatEvent) {
	if !f.enabled.Load() {
		f.logger.Debug("chat captured while disabled, not forwarding", "player", ev.SenderName)
		return
	}
	s := f.sender.Load()
	if s == nil {
		return
	}

	prefix := f.deps.Config.Snapshot().DefaultChatPrefix
	f.logger.Debug("chat captured", "player", ev.SenderName, "id", ev.SenderID, "prefix", prefix)
	s.Send(outbound.Message{
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Body:       ev.Text,
		Prefix:     prefix,
	})
}

// receiverFeature runs an inbound.Receiver on the configured port.
type receiverFeature struct {
	deps   Deps
	logger *slog.Logger

	enabled atomic.Bool
	recv    atomic.Pointer[inbound.Receiver]
}

func newReceiverFeature(deps Deps) *receiverFeature {
	return &receiverFeature{
		deps:   deps,
		logger: deps.Logger.With("feature", string(Receiver)),
	}
}

func (f *receiverFeature) ID() ID        { return Receiver }
func (f *receiverFeature) Enabled() bool { return f.enabled.Load() }

func (f *receiverFeature) enable() error {
	port := f.deps.Config.Snapshot().ListenPort
	r := inbound.New(f.deps.Config, f.deps.Host, f.enabled.Load, f.deps.Journal, f.deps.Logger)
	if err := r.Start(port); err != nil {
		return err
	}
	f.recv.Store(r)
	f.enabled.Store(true)
	return nil
}

func (f *receiverFeature) disable() error {
	f.enabled.Store(false)
	if r := f.recv.Swap(nil); r != nil {
		r.Stop()
	}
	return nil
}

// addr returns the bound listener address, or nil.
func (f *receiverFeature) addr() net.Addr {
	r := f.recv.Load()
	if r == nil {
		return nil
	}
	return r.Addr()
}
