// ABOUTME: Entry point for the aether-bridge message bridge
// ABOUTME: Runs the bridge with a console host and offers config, send and history tools

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/2389/aether-bridge/internal/command"
	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/gateway"
	"github.com/2389/aether-bridge/internal/inbound"
	"github.com/2389/aether-bridge/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _   _                     _          _     _
  __ _  ___| |_| |__   ___ _ __      | |__  _ __(_) __| | __ _  ___
 / _' |/ _ \ __| '_ \ / _ \ '__|_____| '_ \| '__| |/ _' |/ _' |/ _ \
| (_| |  __/ |_| | | |  __/ | |_____| |_) | |  | | (_| | (_| |  __/
 \__,_|\___|\__|_| |_|\___|_|       |_.__/|_|  |_|\__,_|\__, |\___|
                                                        |___/
`

// environment holds process settings read from the environment (and .env).
type environment struct {
	ConfigPath  string `envconfig:"AETHER_CONFIG"`
	DataDir     string `envconfig:"AETHER_DATA_DIR"`
	LogLevel    string `envconfig:"AETHER_LOG_LEVEL"`
	LogFormat   string `envconfig:"AETHER_LOG_FORMAT"`
	ConsoleName string `envconfig:"AETHER_CONSOLE_NAME" default:"console"`
}

func loadEnvironment() (environment, error) {
	_ = godotenv.Load()

	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return env, fmt.Errorf("reading environment: %w", err)
	}
	return env, nil
}

// getConfigPath returns the path to the bridge config file.
// Priority: AETHER_CONFIG > XDG_CONFIG_HOME/aether-bridge/config.json > ~/.config/aether-bridge/config.json
func getConfigPath(env environment) string {
	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.json" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "aether-bridge", "config.json")
}

// getDataPath returns the path to the bridge data directory.
// Priority: AETHER_DATA_DIR > XDG_DATA_HOME/aether-bridge > ~/.local/share/aether-bridge
func getDataPath(env environment) string {
	if env.DataDir != "" {
		return env.DataDir
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "aether-bridge")
}

func printUsage() {
	fmt.Println("Usage: aether-bridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Run the bridge with a console host")
	fmt.Println("  init                     Create a default config file")
	fmt.Println("  info                     Show configuration and listen URLs")
	fmt.Println("  send <message> [prefix]  Post a test message to the local receiver")
	fmt.Println("  history [count]          Show recent journal events")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	env, err := loadEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, env)
	case "init":
		err = runInit(env)
	case "info":
		err = runInfo(env)
	case "send":
		err = runSend(ctx, env, os.Args[2:])
	case "history":
		err = runHistory(ctx, env, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loggingSettings merges the config file's logging block with environment
// overrides. A missing or broken config file yields the defaults.
func loggingSettings(configPath string, env environment) config.LoggingConfig {
	var logging config.LoggingConfig
	if cfg, err := config.Load(configPath); err == nil {
		logging = cfg.Logging
	}
	if env.LogLevel != "" {
		logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		logging.Format = env.LogFormat
	}
	return logging
}

func runServe(ctx context.Context, env environment) error {
	configPath := getConfigPath(env)
	dataPath := getDataPath(env)

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(loggingSettings(configPath, env))

	gw, err := gateway.New(gateway.Options{
		ConfigPath:  configPath,
		DataDir:     dataPath,
		ConsoleName: env.ConsoleName,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	cfg := gw.Config().Snapshot()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Journal:   %s\n", gateway.JournalPath(cfg.Journal.Path, dataPath))
	green.Print("    ▶ ")
	fmt.Printf("Remote:    %s\n", cfg.APIURL)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    :%d\n", cfg.ListenPort)
	green.Print("    ▶ ")
	fmt.Printf("Console:   type chat as %q, or /bridge help\n", env.ConsoleName)
	fmt.Println()

	logger.Info("starting aether-bridge",
		"config", configPath,
		"api_url", cfg.APIURL,
		"listen_port", cfg.ListenPort,
	)

	return gw.Run(ctx)
}

func runInit(env environment) error {
	configPath := getConfigPath(env)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfgStore := config.NewStore(configPath, logger)
	if err := cfgStore.Load(); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	cfg := cfgStore.Snapshot()

	dataPath := getDataPath(env)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	fmt.Printf("  API URL:     %s\n", cfg.APIURL)
	fmt.Printf("  API key:     %s\n", cfg.APIKey)
	fmt.Printf("  Listen port: %d\n", cfg.ListenPort)
	fmt.Println()
	yellow.Println("  Edit apiUrl and apiKey, then start the bridge:")
	fmt.Println("    aether-bridge serve")

	return nil
}

func runInfo(env environment) error {
	configPath := getConfigPath(env)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config (run aether-bridge init first?): %w", err)
	}

	urls, err := command.ListenURLs(cfg.ListenPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	fmt.Printf("Config: %s\n\n", configPath)
	command.WriteInfo(os.Stdout, cfg, urls)
	return nil
}

// runSend posts one message to the local receiver, the same request the
// remote service makes.
func runSend(ctx context.Context, env environment, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: aether-bridge send <message> [prefix]")
	}

	cfg, err := config.Load(getConfigPath(env))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	payload := map[string]string{"message": args[0]}
	if len(args) == 2 {
		payload["prefix"] = args[1]
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d%s", cfg.ListenPort, inbound.SendPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	status := color.New(color.FgGreen)
	if resp.StatusCode != http.StatusOK {
		status = color.New(color.FgRed)
	}
	status.Printf("%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	if len(respBody) > 0 {
		fmt.Println(string(respBody))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("receiver answered %d", resp.StatusCode)
	}
	return nil
}

func runHistory(ctx context.Context, env environment, args []string) error {
	n := command.DefaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("usage: aether-bridge history [count]")
		}
		n = v
	}

	var journalCfg config.JournalConfig
	if cfg, err := config.Load(getConfigPath(env)); err == nil {
		journalCfg = cfg.Journal
	}

	path := gateway.JournalPath(journalCfg.Path, getDataPath(env))
	if path == store.MemoryPath {
		return fmt.Errorf("journal is kept in memory; use /bridge history in a running bridge")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s: %w", path, err)
	}

	journal, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	events, err := journal.ListEvents(ctx, store.EventFilter{Limit: n})
	if err != nil {
		return fmt.Errorf("listing journal: %w", err)
	}
	command.WriteHistory(os.Stdout, events)
	return nil
}
