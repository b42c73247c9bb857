package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 1536, cfg.Embedder.Dimensions)
	assert.Equal(t, 0.15, cfg.Retrieval.GeneralFloor)
	assert.Equal(t, 0.05, cfg.Retrieval.ProfileFloor)
	assert.Equal(t, 1.3, cfg.Retrieval.CurrentBoost)
	assert.Equal(t, float64(2), cfg.Scoring.HalfLifeFactor)
	assert.Equal(t, 30*time.Second, cfg.Extraction.SweepInterval)
	assert.Equal(t, 0.5, cfg.Extraction.ConfidenceFloor)
	assert.Equal(t, 2048, cfg.Budget.MaxTokens)
	assert.Equal(t, "free", cfg.Plan)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
			ok:     true,
		},
		{
			name:   "empty provider",
			mutate: func(c *Config) { c.Storage.Provider = "" },
			ok:     false,
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Storage.Provider = "cassandra" },
			ok:     false,
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Storage.Provider = "sqlite"
				c.Storage.SQLitePath = ""
			},
			ok: false,
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Storage.Provider = "postgres"
				c.Storage.Host = ""
			},
			ok: false,
		},
		{
			name:   "boost below one",
			mutate: func(c *Config) { c.Retrieval.CurrentBoost = 0.5 },
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidConfig))
			}
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.json")
	data := `{
		"storage": {"provider": "sqlite", "sqlite_path": "/tmp/recall.db"},
		"retrieval": {"general_floor": 0.2},
		"plan": "pro"
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Provider)
	assert.Equal(t, "/tmp/recall.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 0.2, cfg.Retrieval.GeneralFloor)
	assert.Equal(t, "pro", cfg.Plan)

	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 1.3, cfg.Retrieval.CurrentBoost)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadConfigFromJSONInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadConfigFromJSON(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := LoadConfigFromJSON(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	data := `
storage:
  provider: memory
embedder:
  model: text-embedding-3-large
  dimensions: 3072
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfigFromYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedder.Model)
	assert.Equal(t, 3072, cfg.Embedder.Dimensions)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "free", cfg.Plan)
}

func TestLoadConfigFromYAMLRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	data := `
storage:
  provider: oracle
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadConfigFromYAML(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
