// Package config loads and validates the careiq-calsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ListenAddr is the host:port the HTTP API binds to. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	Database  DatabaseConfig   `yaml:"database"`
	Auth      AuthConfig       `yaml:"auth"`
	Providers ProvidersConfig  `yaml:"providers"`
	Sync      SyncConfig       `yaml:"sync"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// DatabaseConfig selects the SQL backend holding integrations, events and logs.
type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite3 or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// AuthConfig configures verification of caller bearer tokens.
type AuthConfig struct {
	// JWTSecret is the HMAC key shared with the session layer. It also signs
	// the short-lived OAuth state tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

// ProvidersConfig holds per-provider OAuth and endpoint settings. A provider
// with no client id is disabled for OAuth connect.
type ProvidersConfig struct {
	Google  OAuthClientConfig `yaml:"google"`
	Outlook OAuthClientConfig `yaml:"outlook"`
	CalDAV  CalDAVConfig      `yaml:"caldav"`
}

// OAuthClientConfig is an OAuth 2.0 client registration.
type OAuthClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// Tenant is the Azure AD tenant for Outlook. Defaults to "common".
	Tenant string `yaml:"tenant,omitempty"`
	// BaseURL overrides the provider API root (tests, sovereign clouds).
	BaseURL string `yaml:"base_url,omitempty"`
}

// Enabled reports whether the client is configured.
func (o OAuthClientConfig) Enabled() bool {
	return o.ClientID != ""
}

// CalDAVConfig configures the CalDAV endpoint used for apple_caldav.
type CalDAVConfig struct {
	// ServerURL is the CalDAV root. Defaults to "https://caldav.icloud.com".
	ServerURL string `yaml:"server_url"`
}

// SyncConfig tunes the orchestrator and scheduler.
type SyncConfig struct {
	// RunTimeout bounds a single sync run. Defaults to 45s, max 5m.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Schedule is a robfig/cron spec for scheduled runs, e.g. "@every 15m".
	// Set to "off" to disable scheduled runs.
	Schedule string `yaml:"schedule"`

	// StaleAfter is how long an in_progress log may live before the sweep
	// marks it as error. Defaults to 4x RunTimeout.
	StaleAfter time.Duration `yaml:"stale_after"`

	// DefaultCalendarID is used when a sync request names no target calendar.
	DefaultCalendarID string `yaml:"default_calendar_id"`

	// ImportCalendarType classifies events created by pull.
	ImportCalendarType string `yaml:"import_calendar_type"`

	// MaxAttempts bounds retries of rate-limited or transient provider calls.
	MaxAttempts int `yaml:"max_attempts"`

	// Concurrency caps how many integrations a scheduled tick syncs at once.
	Concurrency int `yaml:"concurrency"`
}

// ScheduleEnabled reports whether scheduled runs are configured.
func (s SyncConfig) ScheduleEnabled() bool {
	return s.Schedule != "off"
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "careiq-calsync".
	ServiceName string `yaml:"service_name"`

	// Headers are sent as gRPC metadata on every OTLP request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Environment is reported as deployment.environment.
	Environment string `yaml:"environment"`

	// InstanceID is reported as service.instance.id. Defaults to the host name.
	InstanceID string `yaml:"instance_id"`

	// SampleRatio is the fraction of sync runs traced, in [0, 1]. 0 traces all.
	SampleRatio float64 `yaml:"sample_ratio"`

	// MetricInterval is the metric export period. Defaults to 30s.
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// DefaultPath returns the default config file path: ~/.config/careiq-calsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "careiq-calsync", "config.yaml"), nil
}

// Load reads, expands and validates the configuration file at the given path.
// ${VAR} references are replaced from the environment before parsing so that
// secrets need not be written to disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	return Parse(os.ExpandEnv(string(raw)))
}

// Parse decodes and validates a YAML document.
func Parse(doc string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(doc))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validate fills defaults and checks that all fields are well-formed.
func (c *Config) validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	switch c.Database.Driver {
	case "":
		c.Database.Driver = "sqlite3"
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver %q must be sqlite3 or postgres", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		if c.Database.Driver == "postgres" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
		dsn, err := DefaultDBPath()
		if err != nil {
			return err
		}
		c.Database.DSN = dsn
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	if err := checkOAuth("providers.google", c.Providers.Google); err != nil {
		return err
	}
	if err := checkOAuth("providers.outlook", c.Providers.Outlook); err != nil {
		return err
	}
	if c.Providers.Outlook.Tenant == "" {
		c.Providers.Outlook.Tenant = "common"
	}
	if c.Providers.CalDAV.ServerURL == "" {
		c.Providers.CalDAV.ServerURL = "https://caldav.icloud.com"
	}
	if !isHTTPURL(c.Providers.CalDAV.ServerURL) {
		return fmt.Errorf("providers.caldav.server_url %q must be a valid http or https URL", c.Providers.CalDAV.ServerURL)
	}

	if err := c.Sync.validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
		if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("telemetry.sample_ratio %v must be between 0 and 1", r)
		}
		if c.Telemetry.MetricInterval < 0 {
			return fmt.Errorf("telemetry.metric_interval must not be negative")
		}
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.RunTimeout == 0 {
		s.RunTimeout = 45 * time.Second
	}
	if s.RunTimeout < time.Second {
		return fmt.Errorf("sync.run_timeout %v is too short (minimum 1s)", s.RunTimeout)
	}
	if s.RunTimeout > 5*time.Minute {
		return fmt.Errorf("sync.run_timeout %v is too long (maximum 5m)", s.RunTimeout)
	}

	if s.StaleAfter == 0 {
		s.StaleAfter = 4 * s.RunTimeout
	}
	if s.StaleAfter <= s.RunTimeout {
		return fmt.Errorf("sync.stale_after %v must exceed sync.run_timeout %v", s.StaleAfter, s.RunTimeout)
	}

	if s.Schedule == "" {
		s.Schedule = "@every 15m"
	}
	if s.ScheduleEnabled() {
		if _, err := cron.ParseStandard(s.Schedule); err != nil {
			return fmt.Errorf("sync.schedule %q: %w", s.Schedule, err)
		}
	}

	if s.DefaultCalendarID == "" {
		s.DefaultCalendarID = "primary"
	}
	if s.ImportCalendarType == "" {
		s.ImportCalendarType = "external"
	}

	if s.MaxAttempts == 0 {
		s.MaxAttempts = 3
	}
	if s.MaxAttempts < 1 || s.MaxAttempts > 10 {
		return fmt.Errorf("sync.max_attempts %d must be between 1 and 10", s.MaxAttempts)
	}

	if s.Concurrency == 0 {
		s.Concurrency = 4
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency %d must be positive", s.Concurrency)
	}
	return nil
}

// DefaultDBPath returns the default SQLite database path:
// ~/.local/share/careiq-calsync/calsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "careiq-calsync", "calsync.db"), nil
}

func checkOAuth(key string, o OAuthClientConfig) error {
	if !o.Enabled() {
		return nil
	}
	if o.ClientSecret == "" {
		return fmt.Errorf("%s.client_secret is required when client_id is set", key)
	}
	if !isHTTPURL(o.RedirectURL) {
		return fmt.Errorf("%s.redirect_url %q must be a valid http or https URL", key, o.RedirectURL)
	}
	if o.BaseURL != "" && !isHTTPURL(o.BaseURL) {
		return fmt.Errorf("%s.base_url %q must be a valid http or https URL", key, o.BaseURL)
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
