// Package config holds the explicit configuration passed to each kernel
// component at construction. There is no process-wide mutable state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable policy for the kernel. Everything here can
// be overridden via forager.yaml or FORAGER_* environment variables.
type Config struct {
	// DBPath is the embedded SQLite database file.
	DBPath string `yaml:"db_path"`

	// RegistryDir holds production source plugin artifacts. StagingDir
	// is the isolated holding area for candidates pending validation.
	RegistryDir string `yaml:"registry_dir"`
	StagingDir  string `yaml:"staging_dir"`

	// PollInterval is how long the orchestrator sleeps when the queue
	// is empty.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StaleTaskAge is the ReapStale threshold: IN_PROGRESS tasks older
	// than this at startup are failed instead of reset to PENDING.
	StaleTaskAge time.Duration `yaml:"stale_task_age"`

	// QuarantineThreshold is the consecutive-failure count that moves a
	// source to QUARANTINED (the 3-strikes rule).
	QuarantineThreshold int `yaml:"quarantine_threshold"`

	// QuarantineDuration is how long a quarantine lasts before the
	// health sweep releases the source back to DEGRADED.
	QuarantineDuration time.Duration `yaml:"quarantine_duration"`

	// MaxFixAttemptsPerDay bounds automated repairs per source per
	// calendar day.
	MaxFixAttemptsPerDay int `yaml:"max_fix_attempts_per_day"`

	// MinConfidence is the diagnosis confidence floor below which the
	// healing pipeline aborts rather than auto-fix.
	MinConfidence float64 `yaml:"min_confidence"`

	// MaxErrorLen bounds error text stored in health records and passed
	// to the oracle.
	MaxErrorLen int `yaml:"max_error_len"`

	// OracleTimeout bounds each outbound oracle/generator call.
	// FetchTimeout bounds each outbound source fetch.
	OracleTimeout time.Duration `yaml:"oracle_timeout"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`

	// DefaultMaxRetries is copied onto new tasks at enqueue.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// Model overrides the oracle model. Empty uses the oracle default.
	Model string `yaml:"model"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DBPath:               "data/forager.db",
		RegistryDir:          "registry",
		StagingDir:           "registry/staging",
		PollInterval:         5 * time.Second,
		StaleTaskAge:         24 * time.Hour,
		QuarantineThreshold:  3,
		QuarantineDuration:   24 * time.Hour,
		MaxFixAttemptsPerDay: 3,
		MinConfidence:        0.3,
		MaxErrorLen:          2000,
		OracleTimeout:        60 * time.Second,
		FetchTimeout:         30 * time.Second,
		DefaultMaxRetries:    3,
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays FORAGER_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FORAGER_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FORAGER_REGISTRY_DIR"); v != "" {
		c.RegistryDir = v
	}
	if v := os.Getenv("FORAGER_STAGING_DIR"); v != "" {
		c.StagingDir = v
	}
	if v := os.Getenv("FORAGER_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("FORAGER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}
	if v := os.Getenv("FORAGER_MAX_FIX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxFixAttemptsPerDay = n
		}
	}
	if v := os.Getenv("FORAGER_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinConfidence = f
		}
	}
}

// Validate rejects configurations the kernel cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.QuarantineThreshold < 1 {
		return fmt.Errorf("quarantine_threshold must be at least 1 (got %d)", c.QuarantineThreshold)
	}
	if c.MaxFixAttemptsPerDay < 1 {
		return fmt.Errorf("max_fix_attempts_per_day must be at least 1 (got %d)", c.MaxFixAttemptsPerDay)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1 (got %.2f)", c.MinConfidence)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.RegistryDir == c.StagingDir {
		return fmt.Errorf("staging_dir must be distinct from registry_dir")
	}
	return nil
}
