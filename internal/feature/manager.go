// ABOUTME: Feature lifecycle manager: enable, disable, reload and hot reload
// ABOUTME: Serializes transitions and converges running state to the config flags

package feature

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

// Status describes one feature for listings.
type Status struct {
	ID          ID
	Description string
	Enabled     bool
	Configured  bool
}

// set is one generation of feature instances. Hot reload replaces it.
type set struct {
	sender   *senderFeature
	receiver *receiverFeature
}

func newSet(deps Deps) *set {
	return &set{
		sender:   newSenderFeature(deps),
		receiver: newReceiverFeature(deps),
	}
}

func (s *set) get(id ID) Feature {
	switch id {
	case Sender:
		return s.sender
	case Receiver:
		return s.receiver
	default:
		return nil
	}
}

// Manager owns the feature instances. Transitions are serialized; state
// queries are lock-free.
type Manager struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	features atomic.Pointer[set]
}

// NewManager registers one disabled instance of every feature.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m := &Manager{
		deps:   deps,
		logger: deps.Logger.With("component", "features"),
	}
	m.features.Store(newSet(deps))
	return m
}

func (m *Manager) lookup(id ID) (Feature, error) {
	f := m.features.Load().get(id)
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, string(id))
	}
	return f, nil
}

// IsEnabled reports whether id is running. Unknown IDs report false.
func (m *Manager) IsEnabled(id ID) bool {
	f := m.features.Load().get(id)
	return f != nil && f.Enabled()
}

// Enable starts a feature. Enabling a running feature does nothing. A start
// failure leaves the feature disabled and is returned.
func (m *Manager) Enable(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.enableLocked(f)
}

// Disable stops a feature. Disabling a stopped feature does nothing.
func (m *Manager) Disable(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.disableLocked(f)
}

func (m *Manager) enableLocked(f Feature) error {
	if f.Enabled() {
		m.logger.Debug("feature already enabled", "feature", string(f.ID()))
		return nil
	}
	if err := f.enable(); err != nil {
		m.logger.Error("failed to enable feature", "feature", string(f.ID()), "error", err)
		return fmt.Errorf("enabling %s: %w", f.ID(), err)
	}
	m.logger.Info("feature enabled", "feature", string(f.ID()))
	return nil
}

func (m *Manager) disableLocked(f Feature) error {
	if !f.Enabled() {
		m.logger.Debug("feature already disabled", "feature", string(f.ID()))
		return nil
	}
	if err := f.disable(); err != nil {
		m.logger.Error("failed to disable feature", "feature", string(f.ID()), "error", err)
		return fmt.Errorf("disabling %s: %w", f.ID(), err)
	}
	m.logger.Info("feature disabled", "feature", string(f.ID()))
	return nil
}

// ReloadFeatures converges every feature to its flag in the current config
// snapshot. Failures are logged per feature and never stop the others.
func (m *Manager) ReloadFeatures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked()
}

func (m *Manager) reloadLocked() {
	cfg := m.deps.Config.Snapshot()
	fs := m.features.Load()

	for _, id := range IDs {
		f := fs.get(id)
		if cfg.FeatureEnabled(string(id)) {
			_ = m.enableLocked(f)
		} else {
			_ = m.disableLocked(f)
		}
	}
	m.logSummary(fs)
}

func (m *Manager) logSummary(fs *set) {
	var on, off []string
	for _, id := range IDs {
		if fs.get(id).Enabled() {
			on = append(on, string(id))
		} else {
			off = append(off, string(id))
		}
	}
	m.logger.Info("feature status",
		"enabled", strings.Join(on, ","),
		"disabled", strings.Join(off, ","),
	)
}

// HotReload stops every feature, discards the instances along with their
// chat listeners and outbound workers, creates fresh ones and converges them
// to the current config.
func (m *Manager) HotReload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("hot reloading features")
	m.shutdownLocked()
	m.features.Store(newSet(m.deps))
	m.reloadLocked()
}

// Shutdown disables every running feature.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *Manager) shutdownLocked() {
	fs := m.features.Load()
	for _, id := range IDs {
		_ = m.disableLocked(fs.get(id))
	}
}

// Statuses lists every feature in display order.
func (m *Manager) Statuses() []Status {
	cfg := m.deps.Config.Snapshot()
	fs := m.features.Load()

	out := make([]Status, 0, len(IDs))
	for _, id := range IDs {
		out = append(out, Status{
			ID:          id,
			Description: id.Description(),
			Enabled:     fs.get(id).Enabled(),
			Configured:  cfg.FeatureEnabled(string(id)),
		})
	}
	return out
}

// ReceiverAddr returns the receiver's bound address, or nil when it is not
// running.
func (m *Manager) ReceiverAddr() net.Addr {
	return m.features.Load().receiver.addr()
}
