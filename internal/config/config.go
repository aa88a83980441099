// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.modsift/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Retrieval: backend selection (local index vs Postgres warehouse),
//     per-request timeout, default top-k
//   - Embedding: model name, dimensionality, request rate limit
//   - Store: persisted store path, index tuning knobs
//   - Ingestion: dataset column names, batch size, truncation, sampling
//   - Postgres: warehouse connection (see storage.go)
//   - Redis: optional embedding cache
//
// The loaded Config is immutable for the process lifetime and passed by
// reference into constructors; there are no ambient globals.
//
// Security: the Postgres password is masked in MarshalJSON/String.
// Validation: fail-fast range checks in validation.go with sentinel errors
// for errors.Is checking.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidBackend indicates an unknown retrieval backend name.
	ErrInvalidBackend = errors.New("invalid retrieval backend")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates the embedding dimensionality is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBatchSize indicates the ingestion batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidTopK indicates the default top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidTimeout indicates the search timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid search timeout")

	// ErrInvalidStorePath indicates the persisted store path is empty for
	// the local backend.
	ErrInvalidStorePath = errors.New("invalid store path")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Default embedding setup. gemini-embedding-001 supports truncation to 768
// dimensions via output dimensionality; the warehouse schema's vector column
// uses the same width.
const (
	DefaultEmbedderModel = "gemini-embedding-001"
	DefaultDimension     = 768
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Retrieval backend: "local" or "warehouse".
	Backend string `mapstructure:"backend" json:"backend"`

	// SearchTimeoutSeconds bounds each warehouse retrieval request.
	SearchTimeoutSeconds int `mapstructure:"search_timeout_seconds" json:"search_timeout_seconds"`

	// TopK is the default result count when a query does not set one.
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Embedding configuration.
	EmbedderModel      string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDimension int     `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	EmbedRPS           float64 `mapstructure:"embed_rps" json:"embed_rps"`

	// Local store configuration.
	StorePath     string `mapstructure:"store_path" json:"store_path"`
	FlatThreshold int    `mapstructure:"flat_threshold" json:"flat_threshold"`
	IVFNList      int    `mapstructure:"ivf_nlist" json:"ivf_nlist"`
	IVFNProbe     int    `mapstructure:"ivf_nprobe" json:"ivf_nprobe"`

	// Ingestion defaults.
	TextColumn     string `mapstructure:"text_column" json:"text_column"`
	CategoryColumn string `mapstructure:"category_column" json:"category_column"`
	BatchSize      int    `mapstructure:"batch_size" json:"batch_size"`
	MaxChars       int    `mapstructure:"max_chars" json:"max_chars"`
	SampleSize     int    `mapstructure:"sample_size" json:"sample_size"`

	// Warehouse (PostgreSQL) configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Redis embedding cache. Empty address disables the cache.
	RedisAddr string `mapstructure:"redis_addr" json:"redis_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".modsift")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("backend", "local")
	viper.SetDefault("search_timeout_seconds", 10)
	viper.SetDefault("top_k", 5)

	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimension", DefaultDimension)
	viper.SetDefault("embed_rps", 0)

	viper.SetDefault("store_path", filepath.Join("data", "store"))
	viper.SetDefault("flat_threshold", 2000)
	viper.SetDefault("ivf_nlist", 0) // 0 = sqrt(n) heuristic
	viper.SetDefault("ivf_nprobe", 8)

	viper.SetDefault("text_column", "text")
	viper.SetDefault("category_column", "category")
	viper.SetDefault("batch_size", 64)
	viper.SetDefault("max_chars", 2000)
	viper.SetDefault("sample_size", 0)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "modsift")
	viper.SetDefault("postgres_password", "modsift_dev_password")
	viper.SetDefault("postgres_db_name", "modsift")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("redis_addr", "")
}

// bindEnvVariables binds runtime override environment variables explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via Viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("backend", "MODSIFT_BACKEND")
	mustBind("store_path", "MODSIFT_STORE_PATH")
	mustBind("embedder_model", "MODSIFT_EMBEDDER_MODEL")
	mustBind("embedding_dimension", "MODSIFT_EMBEDDING_DIMENSION")
	mustBind("redis_addr", "MODSIFT_REDIS_ADDR")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
