// ABOUTME: Bridge runtime that wires config, journal, host, features and commands
// ABOUTME: Runs the console host loop and tears everything down on shutdown

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/aether-bridge/internal/command"
	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/feature"
	"github.com/2389/aether-bridge/internal/host"
	"github.com/2389/aether-bridge/internal/outbound"
	"github.com/2389/aether-bridge/internal/store"
)

// JournalFile is the journal's file name inside the data directory.
const JournalFile = "journal.db"

// shutdownTimeout bounds Shutdown when Run tears down after cancellation.
const shutdownTimeout = 15 * time.Second

// Options configures a Gateway.
type Options struct {
	// ConfigPath is the config file; it is created with defaults if missing.
	ConfigPath string
	// DataDir holds the journal unless journal.path is set. Empty keeps the
	// journal in memory.
	DataDir string

	// ConsoleIn and ConsoleOut drive the console host. Nil selects stdin
	// and stdout.
	ConsoleIn   io.Reader
	ConsoleOut  io.Writer
	ConsoleName string

	// SenderOptions tunes every outbound sender.
	SenderOptions outbound.Options
}

// Gateway owns every bridge component for one process.
type Gateway struct {
	cfg      *config.Store
	journal  store.EventStore
	console  *host.Console
	features *feature.Manager
	commands *command.Dispatcher
	logger   *slog.Logger
}

// JournalPath returns the configured journal path, or the default
// location under dataDir.
func JournalPath(configured, dataDir string) string {
	if configured != "" {
		return configured
	}
	if dataDir == "" {
		return store.MemoryPath
	}
	return filepath.Join(dataDir, JournalFile)
}

// New loads the config and builds the components. Features are not started
// until Run.
func New(opts Options, logger *slog.Logger) (*Gateway, error) {
	cfgStore := config.NewStore(opts.ConfigPath, logger.With("component", "config"))
	if err := cfgStore.Load(); err != nil {
		logger.Warn("continuing with generated config", "path", opts.ConfigPath, "error", err)
	}
	cfg := cfgStore.Snapshot()

	journalPath := JournalPath(cfg.Journal.Path, opts.DataDir)
	journal, err := store.Open(journalPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	logger.Debug("journal opened", "path", journalPath)

	in, out := opts.ConsoleIn, opts.ConsoleOut
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	name := opts.ConsoleName
	if name == "" {
		name = "console"
	}
	console := host.NewConsole(in, out, name, logger)

	features := feature.NewManager(feature.Deps{
		Config:        cfgStore,
		Host:          console,
		Journal:       journal,
		Logger:        logger,
		SenderOptions: opts.SenderOptions,
	})

	commands := command.New(cfgStore, features, journal, logger)
	console.SetCommandHandler(commands.Handle)

	return &Gateway{
		cfg:      cfgStore,
		journal:  journal,
		console:  console,
		features: features,
		commands: commands,
		logger:   logger,
	}, nil
}

// Config returns the config store.
func (g *Gateway) Config() *config.Store { return g.cfg }

// Features returns the feature manager.
func (g *Gateway) Features() *feature.Manager { return g.features }

// Journal returns the delivery journal.
func (g *Gateway) Journal() store.EventStore { return g.journal }

// Console returns the console host.
func (g *Gateway) Console() *host.Console { return g.console }

// Run starts the console host and the configured features, then blocks until
// ctx is cancelled and shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	hostCtx, stopHost := context.WithCancel(context.Background())
	hostErr := make(chan error, 1)
	go func() {
		hostErr <- g.console.Run(hostCtx)
	}()

	g.features.ReloadFeatures()
	g.logger.Info("bridge running", "config", g.cfg.Path())

	var runErr error
	hostDone := false
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case runErr = <-hostErr:
		hostDone = true
		g.logger.Error("console host stopped", "error", runErr)
	}

	shutdownErr := g.gracefulShutdown()

	// The host loop outlives the features so their last tasks still run.
	stopHost()
	if !hostDone {
		runErr = <-hostErr
	}

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops every feature and closes the journal. Feature teardown is
// bounded by the sender and receiver timeouts; ctx bounds the wait for it.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down bridge")

	var errs []error

	done := make(chan struct{})
	go func() {
		g.features.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = appendCloseError(errs, "feature shutdown", ctx.Err())
	}

	errs = appendCloseError(errs, "journal close", g.journal.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
