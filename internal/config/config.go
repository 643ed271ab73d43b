package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// RestorePolicyWarn re-enables triggers and foreign keys with warnings on
// failure; only a failed check-constraint re-enable aborts the run.
// RestorePolicyStrict aborts after any restore phase with failures.
const (
	RestorePolicyWarn   = "warn"
	RestorePolicyStrict = "strict"
)

// Config holds all configuration for the copy tool
type Config struct {
	Server      ServerConfig `yaml:"server"`
	Source      string       `yaml:"source_database"`
	Destination string       `yaml:"destination_database"`
	Copy        CopyConfig   `yaml:"copy"`
	Slack       SlackConfig  `yaml:"slack"`
}

// ServerConfig holds SQL Server connection settings. Source and destination
// databases live on the same instance; the copy runs in the destination
// database context and reads the source through three-part names.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Encrypt         string `yaml:"encrypt"`           // disable, false, true (default: true)
	TrustServerCert bool   `yaml:"trust_server_cert"` // trust server certificate (default: false)
}

// CopyConfig holds copy behavior settings
type CopyConfig struct {
	Workers              int    `yaml:"workers"`                // parallel table transfers (default 1)
	RestoreFailurePolicy string `yaml:"restore_failure_policy"` // "warn" (default) or "strict"
	CloneDestination     bool   `yaml:"clone_destination"`      // provision destination as structural clone first
	DataDir              string `yaml:"data_dir"`               // run history storage
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for run history storage.
// The directory itself is created lazily by the history store.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sql-db-copydata")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 1433
	}
	if c.Server.Encrypt == "" {
		c.Server.Encrypt = "true" // Secure default
	}

	if c.Copy.Workers == 0 {
		// Table transfers are sequential unless explicitly parallelized
		c.Copy.Workers = 1
	}
	if c.Copy.RestoreFailurePolicy == "" {
		c.Copy.RestoreFailurePolicy = RestorePolicyWarn
	}
	if c.Copy.DataDir == "" {
		c.Copy.DataDir = DefaultDataDir()
	} else {
		c.Copy.DataDir = expandTilde(c.Copy.DataDir)
	}
}

// Validate checks the configuration is complete and internally consistent.
// Load runs it automatically; callers that mutate a loaded config (flag
// overrides) should run it again.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Source == "" {
		return fmt.Errorf("source_database is required")
	}
	if c.Destination == "" {
		return fmt.Errorf("destination_database is required")
	}
	if strings.EqualFold(c.Source, c.Destination) {
		return fmt.Errorf("source and destination must be different databases, both are '%s'", c.Source)
	}
	if c.Copy.Workers < 1 {
		return fmt.Errorf("copy.workers must be at least 1")
	}
	if p := c.Copy.RestoreFailurePolicy; p != RestorePolicyWarn && p != RestorePolicyStrict {
		return fmt.Errorf("copy.restore_failure_policy must be 'warn' or 'strict', got '%s'", p)
	}
	return nil
}

// DSN returns the connection string for the given database context.
func (c *Config) DSN(database string) string {
	trustCert := "false"
	if c.Server.TrustServerCert {
		trustCert = "true"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(c.Server.User), url.QueryEscape(c.Server.Password),
		c.Server.Host, c.Server.Port,
		url.QueryEscape(database), c.Server.Encrypt, trustCert)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Server.Password = "[REDACTED]"

	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}
