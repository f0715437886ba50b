// ABOUTME: Configuration loading and parsing for bot-manager
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bot-manager configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Bus           BusConfig           `yaml:"bus"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Bots          BotsConfig          `yaml:"bots"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	BotAddr  string `yaml:"bot_addr"`
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// BusConfig holds message bus configuration
type BusConfig struct {
	Driver         string        `yaml:"driver"` // "nats" or "memory"
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	BroadcastTopic string        `yaml:"broadcast_topic"`
	AdminTopic     string        `yaml:"admin_topic"`
	LogPrefix      string        `yaml:"log_prefix"`
	StatusPrefix   string        `yaml:"status_prefix"`
	LogHistory     int           `yaml:"log_history"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds the bus reconnection policy
type BackoffConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	MaxTotalDuration time.Duration `yaml:"-"`
	Step             time.Duration `yaml:"-"`
	MaxDelay         time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxTotalDurationRaw string `yaml:"max_total_duration"`
	StepRaw             string `yaml:"step"`
	MaxDelayRaw         string `yaml:"max_delay"`
}

// DirectoryConfig holds the SQL directory connection
type DirectoryConfig struct {
	Driver  string `yaml:"driver"` // "sqlite" or "mysql"
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// OrchestrationConfig holds the container orchestration API connection
type OrchestrationConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	CAFile    string `yaml:"ca_file"`
	Insecure  bool   `yaml:"insecure"`
	Namespace string `yaml:"namespace"`
	LabelKey  string `yaml:"label_key"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// BotsConfig holds bot session timing
type BotsConfig struct {
	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults
const (
	DefaultBotAddr           = ":8000"
	DefaultHTTPAddr          = ":8080"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultBusDriver         = "nats"
	DefaultBusURL            = "nats://127.0.0.1:4222"
	DefaultBroadcastTopic    = "bots"
	DefaultAdminTopic        = "xandium-manager"
	DefaultLogPrefix         = "xandium-bot-log"
	DefaultStatusPrefix      = "bots"
	DefaultLogHistory        = 101
	DefaultDirectoryDriver   = "sqlite"
	DefaultNamespace         = "bots"
	DefaultLabelKey          = "bot"
	DefaultResolveTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Default bus backoff
const (
	DefaultBackoffAttempts = 10
	DefaultBackoffTotal    = time.Hour
	DefaultBackoffStep     = 100 * time.Millisecond
	DefaultBackoffMaxDelay = 3 * time.Second
)

// DefaultPath returns the config file location: $BOT_MANAGER_CONFIG, or
// bot-manager/config.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv("BOT_MANAGER_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "bot-manager", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.BotAddr, DefaultBotAddr)
	setDefault(&c.Server.HTTPAddr, DefaultHTTPAddr)
	setDefaultDuration(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&c.Bus.Driver, DefaultBusDriver)
	if c.Bus.Driver == "nats" {
		setDefault(&c.Bus.URL, DefaultBusURL)
	}
	setDefault(&c.Bus.BroadcastTopic, DefaultBroadcastTopic)
	setDefault(&c.Bus.AdminTopic, DefaultAdminTopic)
	setDefault(&c.Bus.LogPrefix, DefaultLogPrefix)
	setDefault(&c.Bus.StatusPrefix, DefaultStatusPrefix)
	if c.Bus.LogHistory == 0 {
		c.Bus.LogHistory = DefaultLogHistory
	}
	if c.Bus.Backoff.MaxAttempts == 0 {
		c.Bus.Backoff.MaxAttempts = DefaultBackoffAttempts
	}
	setDefaultDuration(&c.Bus.Backoff.MaxTotalDuration, DefaultBackoffTotal)
	setDefaultDuration(&c.Bus.Backoff.Step, DefaultBackoffStep)
	setDefaultDuration(&c.Bus.Backoff.MaxDelay, DefaultBackoffMaxDelay)

	setDefault(&c.Directory.Driver, DefaultDirectoryDriver)

	setDefault(&c.Orchestration.Namespace, DefaultNamespace)
	setDefault(&c.Orchestration.LabelKey, DefaultLabelKey)
	setDefaultDuration(&c.Orchestration.Timeout, DefaultResolveTimeout)

	setDefaultDuration(&c.Bots.HeartbeatInterval, DefaultHeartbeatInterval)

	setDefault(&c.Logging.Level, DefaultLogLevel)
	setDefault(&c.Logging.Format, DefaultLogFormat)
	setDefault(&c.Metrics.Path, DefaultMetricsPath)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Bus.Driver {
	case "nats":
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is required for the nats driver")
		}
	case "memory":
	default:
		return fmt.Errorf("bus.driver must be \"nats\" or \"memory\", got %q", c.Bus.Driver)
	}
	if c.Bus.BroadcastTopic == c.Bus.AdminTopic {
		return fmt.Errorf("bus.broadcast_topic and bus.admin_topic must differ")
	}
	if c.Bus.LogHistory < 1 {
		return fmt.Errorf("bus.log_history must be positive")
	}

	switch c.Directory.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("directory.driver must be \"sqlite\" or \"mysql\", got %q", c.Directory.Driver)
	}
	if c.Directory.DSN == "" {
		return fmt.Errorf("directory.dsn is required")
	}

	if c.Orchestration.BaseURL == "" {
		return fmt.Errorf("orchestration.base_url is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"bus.backoff.max_total_duration", cfg.Bus.Backoff.MaxTotalDurationRaw, &cfg.Bus.Backoff.MaxTotalDuration},
		{"bus.backoff.step", cfg.Bus.Backoff.StepRaw, &cfg.Bus.Backoff.Step},
		{"bus.backoff.max_delay", cfg.Bus.Backoff.MaxDelayRaw, &cfg.Bus.Backoff.MaxDelay},
		{"orchestration.timeout", cfg.Orchestration.TimeoutRaw, &cfg.Orchestration.Timeout},
		{"bots.heartbeat_interval", cfg.Bots.HeartbeatIntervalRaw, &cfg.Bots.HeartbeatInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
