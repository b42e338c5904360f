package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().QuarantineThreshold, cfg.QuarantineThreshold)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/custom.db
quarantine_threshold: 5
poll_interval: 10s
min_confidence: 0.6
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.QuarantineThreshold)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 0.6, cfg.MinConfidence)
	// Untouched keys keep defaults.
	assert.Equal(t, Default().MaxFixAttemptsPerDay, cfg.MaxFixAttemptsPerDay)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FORAGER_DB_PATH", "/tmp/env.db")
	t.Setenv("FORAGER_POLL_INTERVAL", "250ms")
	t.Setenv("FORAGER_MAX_FIX_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 7, cfg.MaxFixAttemptsPerDay)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"empty db path":          func(c *Config) { c.DBPath = "" },
		"zero threshold":         func(c *Config) { c.QuarantineThreshold = 0 },
		"zero fix budget":        func(c *Config) { c.MaxFixAttemptsPerDay = 0 },
		"confidence over one":    func(c *Config) { c.MinConfidence = 1.5 },
		"negative poll interval": func(c *Config) { c.PollInterval = -time.Second },
		"staging equals registry": func(c *Config) {
			c.StagingDir = c.RegistryDir
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
