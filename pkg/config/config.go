// Package config provides the configuration surface for esmirror.
// Required settings come from the environment (optionally bootstrapped
// from a .env file by the CLI); tunables have defaults and may be
// overridden by an optional YAML file or command-line flags.
//
// The configuration is organized into logical sections:
//   - Source: source cluster endpoint and credentials
//   - Target: target cluster endpoint and API credentials
//   - Collections: source and target collection names
//   - Sync: page size, retry/backoff policy, scheduling interval
//   - Logging: level and encoding of the structured log output
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Required environment variables. The process refuses to start if any
// of these is absent.
const (
	EnvSourceURL      = "SOURCE_URL"
	EnvSourceUsername = "SOURCE_USERNAME"
	EnvSourcePassword = "SOURCE_PASSWORD"
	EnvTargetURL      = "TARGET_URL"
	EnvTargetAPIKey   = "TARGET_API_KEY"
	EnvSourceIndex    = "SOURCE_INDEX"
	EnvTargetIndex    = "TARGET_INDEX"
)

// Optional environment variables with defaults.
const (
	EnvPageSize      = "PAGE_SIZE"
	EnvScrollLease   = "SCROLL_LEASE"
	EnvMaxRetries    = "MAX_RETRIES"
	EnvBaseDelay     = "BASE_DELAY"
	EnvMaxDelay      = "MAX_DELAY"
	EnvSyncInterval  = "SYNC_INTERVAL"
	EnvDetectChanges = "DETECT_CHANGES"
	EnvPayloadField  = "PAYLOAD_FIELD"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogEncoding   = "LOG_ENCODING"
)

// Config is the full configuration of one synchronization pair
type Config struct {
	Source      SourceConfig      `yaml:"source" json:"source"`
	Target      TargetConfig      `yaml:"target" json:"target"`
	Collections CollectionsConfig `yaml:"collections" json:"collections"`
	Sync        SyncConfig        `yaml:"sync" json:"sync"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// SourceConfig identifies the source cluster
type SourceConfig struct {
	// URL is the source cluster endpoint
	URL string `yaml:"url" json:"url"`
	// Username for basic authentication against the source
	Username string `yaml:"username" json:"username"`
	// Password for basic authentication against the source
	Password string `yaml:"password" json:"password"`
}

// TargetConfig identifies the target cluster
type TargetConfig struct {
	// URL is the target cluster endpoint
	URL string `yaml:"url" json:"url"`
	// APIKey authenticates bulk writes against the target
	APIKey string `yaml:"api_key" json:"api_key"`
}

// CollectionsConfig names the replicated collections
type CollectionsConfig struct {
	// Source is the collection read from
	Source string `yaml:"source" json:"source"`
	// Target is the collection written to
	Target string `yaml:"target" json:"target"`
}

// SyncConfig contains the engine tunables
type SyncConfig struct {
	// PageSize controls how many records one cursor page holds
	PageSize int `yaml:"page_size" json:"page_size"`
	// ScrollLease is the renewable lease duration of the source cursor
	ScrollLease time.Duration `yaml:"scroll_lease" json:"scroll_lease"`
	// MaxRetries caps transport-level retry attempts per batch
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BaseDelay is the backoff floor and the inter-batch pacing delay
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
	// MaxDelay is the backoff ceiling
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Interval is the wait between passes; 0 restarts after a short
	// fixed pause
	Interval time.Duration `yaml:"interval" json:"interval"`
	// DetectChanges gates writes on a per-document equality check
	// against the target instead of upserting unconditionally
	DetectChanges bool `yaml:"detect_changes" json:"detect_changes"`
	// PayloadField names the field holding string-encoded structured
	// payloads that the transformer decodes
	PayloadField string `yaml:"payload_field" json:"payload_field"`
}

// LoggingConfig controls the structured log output
type LoggingConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Encoding selects json or console output
	Encoding string `yaml:"encoding" json:"encoding"`
}

// New returns a Config with production defaults for all tunables.
// Required connection settings are left empty and must come from the
// environment.
func New() *Config {
	return &Config{
		Sync: SyncConfig{
			PageSize:      500,
			ScrollLease:   5 * time.Minute,
			MaxRetries:    3,
			BaseDelay:     time.Second,
			MaxDelay:      60 * time.Second,
			Interval:      60 * time.Second,
			DetectChanges: false,
			PayloadField:  "payload",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// FromEnv builds a Config from the process environment. Missing required
// variables are reported together so the operator can fix them in one go.
func FromEnv() (*Config, error) {
	cfg := New()

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.Source.URL = required(EnvSourceURL)
	cfg.Source.Username = required(EnvSourceUsername)
	cfg.Source.Password = required(EnvSourcePassword)
	cfg.Target.URL = required(EnvTargetURL)
	cfg.Target.APIKey = required(EnvTargetAPIKey)
	cfg.Collections.Source = required(EnvSourceIndex)
	cfg.Collections.Target = required(EnvTargetIndex)

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	var err error
	if cfg.Sync.PageSize, err = envInt(EnvPageSize, cfg.Sync.PageSize); err != nil {
		return nil, err
	}
	if cfg.Sync.ScrollLease, err = envDuration(EnvScrollLease, cfg.Sync.ScrollLease); err != nil {
		return nil, err
	}
	if cfg.Sync.MaxRetries, err = envInt(EnvMaxRetries, cfg.Sync.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.Sync.BaseDelay, err = envDuration(EnvBaseDelay, cfg.Sync.BaseDelay); err != nil {
		return nil, err
	}
	if cfg.Sync.MaxDelay, err = envDuration(EnvMaxDelay, cfg.Sync.MaxDelay); err != nil {
		return nil, err
	}
	if cfg.Sync.Interval, err = envDuration(EnvSyncInterval, cfg.Sync.Interval); err != nil {
		return nil, err
	}
	if cfg.Sync.DetectChanges, err = envBool(EnvDetectChanges, cfg.Sync.DetectChanges); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvPayloadField); v != "" {
		cfg.Sync.PayloadField = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogEncoding); v != "" {
		cfg.Logging.Encoding = v
	}

	return cfg, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source url is required")
	}
	if c.Target.URL == "" {
		return fmt.Errorf("target url is required")
	}
	if c.Collections.Source == "" {
		return fmt.Errorf("source collection is required")
	}
	if c.Collections.Target == "" {
		return fmt.Errorf("target collection is required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if c.Sync.ScrollLease <= 0 {
		return fmt.Errorf("scroll_lease must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Sync.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("max_delay must be at least base_delay")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	if c.Sync.PayloadField == "" {
		return fmt.Errorf("payload_field is required")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
