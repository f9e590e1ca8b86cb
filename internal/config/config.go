// ABOUTME: Configuration loading and parsing for aether-bridge
// ABOUTME: Supports JSON, YAML and TOML files with environment variable expansion and defaults

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Feature identifiers as they appear under the "features" key.
const (
	FeatureMessageSender   = "messageSender"
	FeatureMessageReceiver = "messageReceiver"
)

const (
	DefaultAPIURL     = "http://localhost:3000/api/mc-message"
	DefaultListenPort = 8080
	DefaultChatPrefix = "Game"

	// placeholderAPIKey fills a missing apiKey in an existing file. Fresh
	// configs get a generated key instead.
	placeholderAPIKey = "your-secret-key"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// KnownFeatures lists every feature flag the bridge understands, in display order.
var KnownFeatures = []string{FeatureMessageSender, FeatureMessageReceiver}

// Config is one complete, validated configuration snapshot.
type Config struct {
	APIURL            string          `json:"apiUrl" yaml:"apiUrl" toml:"apiUrl" validate:"required,url"`
	APIKey            string          `json:"apiKey" yaml:"apiKey" toml:"apiKey" validate:"required"`
	ListenPort        int             `json:"listenPort" yaml:"listenPort" toml:"listenPort" validate:"min=1,max=65535"`
	DefaultChatPrefix string          `json:"defaultChatPrefix" yaml:"defaultChatPrefix" toml:"defaultChatPrefix"`
	Features          map[string]bool `json:"features" yaml:"features" toml:"features"`
	Logging           LoggingConfig   `json:"logging,omitzero" yaml:"logging,omitempty" toml:"logging,omitempty"`
	Journal           JournalConfig   `json:"journal,omitzero" yaml:"journal,omitempty" toml:"journal,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// JournalConfig holds delivery journal configuration.
// An empty Path selects the default location under the data directory;
// ":memory:" keeps the journal in memory only.
type JournalConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// Format identifies the on-disk encoding of a config file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from the file extension. Anything that is
// not YAML or TOML is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Default returns a freshly generated configuration with every feature enabled
// and a random API key.
func Default() *Config {
	cfg := base()
	cfg.APIKey = placeholderAPIKey + "-" + uuid.NewString()
	cfg.applyDefaults()
	return cfg
}

// base holds the values used for keys missing from an existing file.
func base() *Config {
	return &Config{
		APIURL:            DefaultAPIURL,
		APIKey:            placeholderAPIKey,
		ListenPort:        DefaultListenPort,
		DefaultChatPrefix: DefaultChatPrefix,
		Features:          make(map[string]bool),
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, FormatForPath(path))
}

// Parse decodes raw config content in the given format, applies defaults for
// missing keys and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := base()
	if err := decode(format, []byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(format Format, data []byte, cfg *Config) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	case FormatTOML:
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(stripLineComments(data), cfg)
	}
}

// stripLineComments drops whole lines starting with "//", which is how the
// JSON config header is written.
func stripLineComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	kept := lines[:0]
	for _, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		kept = append(kept, line)
	}
	return bytes.Join(kept, []byte("\n"))
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Features == nil {
		c.Features = make(map[string]bool)
	}
	for _, id := range KnownFeatures {
		if _, ok := c.Features[id]; !ok {
			c.Features[id] = true
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalid, fe.Field())
	case "url":
		return fmt.Errorf("%w: %s is not a valid URL", ErrInvalid, fe.Field())
	case "min", "max":
		return fmt.Errorf("%w: %s must be between 1 and 65535", ErrInvalid, fe.Field())
	default:
		return fmt.Errorf("%w: %s failed %q", ErrInvalid, fe.Namespace(), fe.Tag())
	}
}

// FeatureEnabled reports the configured flag for a feature. Unknown features
// are disabled.
func (c *Config) FeatureEnabled(id string) bool {
	return c.Features[id]
}

// Clone returns a deep copy that can be modified without affecting readers
// of the original snapshot.
func (c *Config) Clone() *Config {
	out := *c
	out.Features = make(map[string]bool, len(c.Features))
	for k, v := range c.Features {
		out.Features[k] = v
	}
	return &out
}

const commentHeader = `aether-bridge configuration
apiUrl: remote endpoint that receives forwarded chat messages
apiKey: shared secret, must match the remote service
listenPort: port of the local HTTP receiver
defaultChatPrefix: prefix attached to forwarded chat messages
features: feature switches
  - messageSender: forward host chat to the remote endpoint
  - messageReceiver: accept remote messages and broadcast them in the host`

// Encode serializes cfg in the given format, preceded by a comment header.
func Encode(cfg *Config, format Format) ([]byte, error) {
	var buf bytes.Buffer
	marker := "# "
	if format == FormatJSON {
		marker = "// "
	}
	for _, line := range strings.Split(commentHeader, "\n") {
		buf.WriteString(marker + line + "\n")
	}
	buf.WriteString("\n")

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		buf.Write(data)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}
