package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a memory Service.
//
// The tuned constants (similarity floors, decay half-lives, boost weights)
// live here rather than in code: they are empirical values, and deployments
// adjust them without recompiling.
type Config struct {
	// Storage selects and configures the persistence backend.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// LLM configures the language-generation provider.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// Cache configures the embedding and bundle caches.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Retrieval holds the ranking constants.
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`

	// Scoring holds the decay and access-boost constants.
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Extraction configures the background pipeline.
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`

	// Budget configures context budgeting and compression.
	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// Plan is the default subscription tier when no resolver is injected.
	Plan string `json:"plan" yaml:"plan"`

	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// StorageConfig selects the persistence backend.
//
// Supported providers: sqlite, postgres, memory.
type StorageConfig struct {
	Provider string `json:"provider" yaml:"provider"`

	// SQLitePath is the database file path for the sqlite provider.
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`

	// Postgres connection settings for the postgres provider.
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DBName   string `json:"db_name,omitempty" yaml:"db_name,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// LLMConfig configures the language-generation provider.
type LLMConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// CacheConfig configures the process-local caches and the optional remote
// bundle tier.
type CacheConfig struct {
	// MaxEntries bounds each cache (default 1000).
	MaxEntries int `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`

	// TTL is the entry lifetime (default 1h).
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`

	// RedisAddr enables the remote bundle tier when non-empty. The core
	// degrades to local-only caching when Redis is unreachable.
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`

	// RemoteTimeout is the hard deadline on every remote cache call
	// (default 2000 ms).
	RemoteTimeout time.Duration `json:"remote_timeout,omitempty" yaml:"remote_timeout,omitempty"`
}

// RetrievalConfig holds the empirically tuned ranking constants.
type RetrievalConfig struct {
	// GeneralFloor is the similarity floor for ordinary queries
	// (default 0.15).
	GeneralFloor float64 `json:"general_floor,omitempty" yaml:"general_floor,omitempty"`

	// ProfileFloor is the floor for profile-style queries (default 0.05).
	ProfileFloor float64 `json:"profile_floor,omitempty" yaml:"profile_floor,omitempty"`

	// CurrentBoost multiplies current-conversation similarity
	// (default 1.3).
	CurrentBoost float64 `json:"current_boost,omitempty" yaml:"current_boost,omitempty"`

	// NearTieWindow is the score distance treated as a tie (default 0.1).
	NearTieWindow float64 `json:"near_tie_window,omitempty" yaml:"near_tie_window,omitempty"`

	// Permissive selects the permissive ranking variant.
	Permissive bool `json:"permissive,omitempty" yaml:"permissive,omitempty"`
}

// ScoringConfig holds the decay and access-boost constants.
type ScoringConfig struct {
	// HalfLifeFactor multiplies tier retention into the decay half-life
	// (default 2).
	HalfLifeFactor float64 `json:"half_life_factor,omitempty" yaml:"half_life_factor,omitempty"`

	// UnboundedHalfLife is the half-life of the unbounded tier
	// (default 1 year).
	UnboundedHalfLife time.Duration `json:"unbounded_half_life,omitempty" yaml:"unbounded_half_life,omitempty"`

	// UsageBoostWeight scales log(accessCount+1) (default 0.1).
	UsageBoostWeight float64 `json:"usage_boost_weight,omitempty" yaml:"usage_boost_weight,omitempty"`

	// RecencyBoostWeight scales the last-access recency term (default 0.2).
	RecencyBoostWeight float64 `json:"recency_boost_weight,omitempty" yaml:"recency_boost_weight,omitempty"`
}

// ExtractionConfig configures the background extraction pipeline.
type ExtractionConfig struct {
	// SweepInterval is the extraction sweep period (default 30s).
	SweepInterval time.Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`

	// OptimizeInterval is the optimization-task period (default 10m).
	OptimizeInterval time.Duration `json:"optimize_interval,omitempty" yaml:"optimize_interval,omitempty"`

	// ExpireInterval is the tier-expiration sweep period (default 1h).
	ExpireInterval time.Duration `json:"expire_interval,omitempty" yaml:"expire_interval,omitempty"`

	// BatchSize bounds one sweep's concurrency (default 5).
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`

	// MaxAttempts bounds retries per task (default 3).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// ConfidenceFloor discards extraction candidates below it
	// (default 0.5, useful range 0.4-0.6).
	ConfidenceFloor float64 `json:"confidence_floor,omitempty" yaml:"confidence_floor,omitempty"`

	// CleanupFloor is the confidence below which the cleanup task deletes
	// memories (default 0.4).
	CleanupFloor float64 `json:"cleanup_floor,omitempty" yaml:"cleanup_floor,omitempty"`
}

// BudgetConfig configures context budgeting and compression.
type BudgetConfig struct {
	// MaxTokens is the default overall context budget (default 2048).
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// KeepRecent is how many trailing messages compression keeps
	// (default 10).
	KeepRecent int `json:"keep_recent,omitempty" yaml:"keep_recent,omitempty"`
}

// DefaultConfig returns a Config with every tuned constant at its default
// and the in-memory storage backend selected.
func DefaultConfig() *Config {
	return &Config{
		Storage:  StorageConfig{Provider: "memory"},
		LLM:      LLMConfig{Model: "gpt-4o-mini"},
		Embedder: EmbedderConfig{Model: "text-embedding-3-small", Dimensions: 1536},
		Cache: CacheConfig{
			MaxEntries:    1000,
			TTL:           time.Hour,
			RemoteTimeout: 2000 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			GeneralFloor:  0.15,
			ProfileFloor:  0.05,
			CurrentBoost:  1.3,
			NearTieWindow: 0.1,
		},
		Scoring: ScoringConfig{
			HalfLifeFactor:     2,
			UnboundedHalfLife:  365 * 24 * time.Hour,
			UsageBoostWeight:   0.1,
			RecencyBoostWeight: 0.2,
		},
		Extraction: ExtractionConfig{
			SweepInterval:    30 * time.Second,
			OptimizeInterval: 10 * time.Minute,
			ExpireInterval:   time.Hour,
			BatchSize:        5,
			MaxAttempts:      3,
			ConfidenceFloor:  0.5,
			CleanupFloor:     0.4,
		},
		Budget: BudgetConfig{
			MaxTokens:  2048,
			KeepRecent: 10,
		},
		Plan:     "free",
		LogLevel: "info",
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "sqlite", "postgres", "memory":
	case "":
		return fmt.Errorf("%w: storage provider is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown storage provider %q", ErrInvalidConfig, c.Storage.Provider)
	}

	if c.Storage.Provider == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("%w: sqlite_path is required for the sqlite provider", ErrInvalidConfig)
	}
	if c.Storage.Provider == "postgres" && c.Storage.Host == "" {
		return fmt.Errorf("%w: host is required for the postgres provider", ErrInvalidConfig)
	}
	if c.Retrieval.CurrentBoost != 0 && c.Retrieval.CurrentBoost < 1 {
		return fmt.Errorf("%w: current_boost must be at least 1.0", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// searching upward for a .env file first.
//
// Supported variables: DATABASE_PROVIDER (sqlite, postgres, memory),
// SQLITE_PATH, POSTGRES_HOST/PORT/USER/PASSWORD/DATABASE/SSLMODE,
// LLM_API_KEY/MODEL/BASE_URL, EMBEDDING_API_KEY/MODEL/BASE_URL/DIMS,
// REDIS_ADDR/PASSWORD/DB, RECALL_PLAN, RECALL_LOG_LEVEL.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := findEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	cfg.Storage.Provider = getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch cfg.Storage.Provider {
	case "sqlite":
		cfg.Storage.SQLitePath = getEnvOrDefault("SQLITE_PATH", "./recall.db")
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		cfg.Storage.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		cfg.Storage.Port = port
		cfg.Storage.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		cfg.Storage.Password = os.Getenv("POSTGRES_PASSWORD")
		cfg.Storage.DBName = getEnvOrDefault("POSTGRES_DATABASE", "recall")
		cfg.Storage.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	}

	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	cfg.LLM.Model = getEnvOrDefault("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = os.Getenv("LLM_BASE_URL")

	cfg.Embedder.APIKey = getEnvOrDefault("EMBEDDING_API_KEY", cfg.LLM.APIKey)
	cfg.Embedder.Model = getEnvOrDefault("EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Embedder.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	if dims, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMS")); err == nil && dims > 0 {
		cfg.Embedder.Dimensions = dims
	}

	cfg.Cache.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Cache.RedisDB = db
	}

	cfg.Plan = getEnvOrDefault("RECALL_PLAN", cfg.Plan)
	cfg.LogLevel = getEnvOrDefault("RECALL_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file. Unset fields keep
// their defaults.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfig", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Unset fields keep
// their defaults.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfig", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findEnvFile searches for a .env file in the current directory and up to
// five directory levels above it.
func findEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for i := 0; i < 6; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
