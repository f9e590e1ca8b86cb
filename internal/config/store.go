// ABOUTME: Process-wide config holder with atomic snapshot replacement
// ABOUTME: Loads, falls back to defaults, and persists changes with save-then-reload

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Store owns the current configuration snapshot.
//
// There is a single writer discipline: Load, Save and Update are serialized by
// mu and publish a complete new *Config through an atomic pointer swap.
// Readers call Snapshot from any goroutine and must treat the result as
// read-only (use Clone before modifying).
type Store struct {
	path   string
	format Format
	logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Config]
}

// NewStore creates a Store backed by the file at path. Nothing is read until
// Load or the first Snapshot.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		format: FormatForPath(path),
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current configuration, loading it on first use.
func (s *Store) Snapshot() *Config {
	if cfg := s.current.Load(); cfg != nil {
		return cfg
	}
	// Load always installs a snapshot, even on error.
	_ = s.Load()
	return s.current.Load()
}

// Load (re)reads the config file and publishes the result.
//
// A missing file is created with Default(). Any other failure publishes a
// freshly generated default configuration, leaves the file untouched and
// returns the load error so the caller can report it.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	cfg, err := Load(s.path)
	switch {
	case err == nil:
		s.current.Store(cfg)
		return nil

	case errors.Is(err, fs.ErrNotExist):
		cfg = Default()
		s.current.Store(cfg)
		s.logger.Info("creating default config file", "path", s.path)
		if err := s.write(cfg); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
		s.logger.Warn("default config created, update apiKey and apiUrl before use", "path", s.path)
		return nil

	default:
		s.logger.Error("failed to load config, using generated defaults", "path", s.path, "error", err)
		s.current.Store(Default())
		return err
	}
}

// Update applies fn to a copy of the current snapshot, saves it and reloads
// from disk, so the published snapshot always matches durable storage.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil {
		if err := s.loadLocked(); err != nil {
			s.logger.Warn("updating config based on defaults", "error", err)
		}
		cur = s.current.Load()
	}

	next := cur.Clone()
	fn(next)

	if err := s.write(next); err != nil {
		return err
	}
	return s.loadLocked()
}

// SetFeatureEnabled persists a feature flag through save-then-reload.
func (s *Store) SetFeatureEnabled(id string, enabled bool) error {
	return s.Update(func(c *Config) {
		c.Features[id] = enabled
	})
}

// write encodes cfg and replaces the file atomically via rename.
func (s *Store) write(cfg *Config) error {
	data, err := Encode(cfg, s.format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
