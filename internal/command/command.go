// ABOUTME: Operator command dispatcher for the running bridge
// ABOUTME: Implements reload, hotreload, info, feature and history subcommands

package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/fatih/color"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/feature"
	"github.com/2389/aether-bridge/internal/store"
)

// DefaultHistory is the number of journal events shown by "history".
const DefaultHistory = 10

var (
	ErrUsage           = errors.New("usage")
	ErrAlreadyEnabled  = errors.New("feature already enabled")
	ErrAlreadyDisabled = errors.New("feature already disabled")
	ErrNoJournal       = errors.New("delivery journal not available")
)

// ConfigStore is the subset of config.Store the commands use.
type ConfigStore interface {
	Snapshot() *config.Config
	Load() error
	SetFeatureEnabled(id string, enabled bool) error
}

// FeatureManager is the subset of feature.Manager the commands use.
type FeatureManager interface {
	Enable(id feature.ID) error
	Disable(id feature.ID) error
	IsEnabled(id feature.ID) bool
	ReloadFeatures()
	HotReload()
	Statuses() []feature.Status
}

// Dispatcher routes command lines to their handlers.
type Dispatcher struct {
	cfg      ConfigStore
	features FeatureManager
	journal  store.EventStore
	logger   *slog.Logger

	// listenURLs is swapped in tests.
	listenURLs func(port int) ([]string, error)
}

// New creates a dispatcher. journal may be nil, in which case "history"
// reports ErrNoJournal.
func New(cfg ConfigStore, features FeatureManager, journal store.EventStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		features:   features,
		journal:    journal,
		logger:     logger.With("component", "commands"),
		listenURLs: ListenURLs,
	}
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	headColor = color.New(color.FgYellow, color.Bold)
)

// Handle runs one command. args excludes the command prefix. Its signature
// matches host.CommandHandler.
func (d *Dispatcher) Handle(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		writeUsage(out)
		return nil
	}

	d.logger.Debug("command", "args", args)

	switch args[0] {
	case "help":
		writeUsage(out)
		return nil
	case "reload":
		return d.reload(out)
	case "hotreload":
		return d.hotReload(out)
	case "info":
		return d.info(out)
	case "feature":
		return d.feature(args[1:], out)
	case "history":
		return d.history(ctx, args[1:], out)
	default:
		return fmt.Errorf("%w: unknown command %q, try help", ErrUsage, args[0])
	}
}

// loadConfig rereads the config file. A broken file leaves the bridge on
// generated defaults; the operator is told and the command carries on.
func (d *Dispatcher) loadConfig(out io.Writer) {
	if err := d.cfg.Load(); err != nil {
		d.logger.Error("config reload failed", "error", err)
		_, _ = warnColor.Fprintf(out, "config could not be loaded, running with defaults: %v\n", err)
	}
}

func (d *Dispatcher) reload(out io.Writer) error {
	d.loadConfig(out)
	d.features.ReloadFeatures()
	_, _ = okColor.Fprintln(out, "Config reloaded")
	return nil
}

func (d *Dispatcher) hotReload(out io.Writer) error {
	_, _ = warnColor.Fprintln(out, "Hot reloading, please wait...")
	d.loadConfig(out)
	d.features.HotReload()
	_, _ = okColor.Fprintln(out, "Hot reload complete, all features reinitialized")
	return nil
}

func (d *Dispatcher) info(out io.Writer) error {
	cfg := d.cfg.Snapshot()
	urls, err := d.listenURLs(cfg.ListenPort)
	if err != nil {
		d.logger.Error("listing network interfaces", "error", err)
	}
	WriteInfo(out, cfg, urls)
	return nil
}

func (d *Dispatcher) feature(args []string, out io.Writer) error {
	if len(args) == 1 && args[0] == "list" {
		WriteFeatures(out, d.features.Statuses())
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: feature list | feature <id> enable|disable", ErrUsage)
	}

	id, err := feature.ParseID(args[0])
	if err != nil {
		return err
	}

	switch args[1] {
	case "enable":
		return d.setFeature(id, true, out)
	case "disable":
		return d.setFeature(id, false, out)
	default:
		return fmt.Errorf("%w: feature %s enable|disable", ErrUsage, id)
	}
}

// setFeature toggles a feature and then persists the new flag.
func (d *Dispatcher) setFeature(id feature.ID, enable bool, out io.Writer) error {
	if d.features.IsEnabled(id) == enable {
		if enable {
			return fmt.Errorf("%w: %s", ErrAlreadyEnabled, id)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyDisabled, id)
	}

	toggle, verb := d.features.Disable, "disabled"
	if enable {
		toggle, verb = d.features.Enable, "enabled"
	}
	if err := toggle(id); err != nil {
		return err
	}

	if err := d.cfg.SetFeatureEnabled(string(id), enable); err != nil {
		return fmt.Errorf("saving feature state: %w", err)
	}

	_, _ = okColor.Fprintf(out, "Feature %s: %s\n", verb, id)
	return nil
}

func (d *Dispatcher) history(ctx context.Context, args []string, out io.Writer) error {
	if d.journal == nil {
		return ErrNoJournal
	}

	n := DefaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("%w: history [count]", ErrUsage)
		}
		n = v
	}

	events, err := d.journal.ListEvents(ctx, store.EventFilter{Limit: n})
	if err != nil {
		return fmt.Errorf("listing journal: %w", err)
	}
	WriteHistory(out, events)
	return nil
}

func writeUsage(out io.Writer) {
	_, _ = headColor.Fprintln(out, "=== aether-bridge commands ===")
	fmt.Fprintln(out, "  reload                      reload the config file and apply feature flags")
	fmt.Fprintln(out, "  hotreload                   reload the config file and rebuild every feature")
	fmt.Fprintln(out, "  info                        show configuration and listen URLs")
	fmt.Fprintln(out, "  feature list                show features and their state")
	fmt.Fprintln(out, "  feature <id> enable|disable toggle a feature and save it to the config file")
	fmt.Fprintf(out, "  history [count]             show recent deliveries (default %d)\n", DefaultHistory)
}
