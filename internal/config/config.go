// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.flyerbird/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model and embedder model (Gemini via Genkit)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ingest: extraction document directory
//   - Embedding: batch sizes and pacing for the embedding worker
//   - Search: similarity defaults
//   - Serve: HTTP listen address, CORS, rate limiting
//
// Security: the database password is never logged; GEMINI_API_KEY is read
// directly by Genkit and only checked for presence here.
//
// Error handling uses sentinel errors for Go-idiomatic checking with
// errors.Is(), wrapped with context via fmt.Errorf("%w: details", ErrXxx).
package config

import (
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

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBatchSize indicates a batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidLimit indicates the search result limit is out of range.
	ErrInvalidLimit = errors.New("invalid search result limit")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// text-embedding-004 outputs 768 dimensions, matching the vector(768)
	// column created by the schema migrations.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultModelName is the default Gemini generation model used by the
	// query classifier.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultDBBatchSize is the default number of products fetched per
	// database batch by the embedding worker.
	DefaultDBBatchSize = 100

	// DefaultProviderBatchSize is the provider-side cap on inputs per
	// embedding request; larger database batches are sub-chunked to this.
	DefaultProviderBatchSize = 100

	// DefaultSearchLimit is the default maximum number of search results.
	DefaultSearchLimit = 50

	// DefaultSimilarityThreshold is the default minimum cosine similarity
	// for a product to appear in search results.
	DefaultSimilarityThreshold = 0.5
)

// Config stores application configuration.
type Config struct {
	// AI model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Storage configuration (see storage.go for DSN builders)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE: never serialized
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingest configuration
	ExtractionsDir string `mapstructure:"extractions_dir" json:"extractions_dir"`

	// Embedding worker configuration
	DBBatchSize       int     `mapstructure:"db_batch_size" json:"db_batch_size"`
	ProviderBatchSize int     `mapstructure:"provider_batch_size" json:"provider_batch_size"`
	EmbedRatePerSec   float64 `mapstructure:"embed_rate_per_sec" json:"embed_rate_per_sec"`
	EmbedIntervalMin  int     `mapstructure:"embed_interval_min" json:"embed_interval_min"` // 0 disables the periodic scheduler

	// Search defaults
	SearchLimit         int     `mapstructure:"search_limit" json:"search_limit"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`

	// Serve configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	OTLPAgentHost string `mapstructure:"otlp_agent_host" json:"otlp_agent_host"`
	ServiceName   string `mapstructure:"service_name" json:"service_name"`
	Environment   string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".flyerbird")
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

	// DATABASE_URL overrides individual postgres_* settings.
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
	// AI defaults
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "flyerbird")
	viper.SetDefault("postgres_password", "flyerbird_dev_password")
	viper.SetDefault("postgres_db_name", "flyerbird")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Ingest defaults
	viper.SetDefault("extractions_dir", "extractions")

	// Embedding worker defaults
	viper.SetDefault("db_batch_size", DefaultDBBatchSize)
	viper.SetDefault("provider_batch_size", DefaultProviderBatchSize)
	viper.SetDefault("embed_rate_per_sec", 2.0)
	viper.SetDefault("embed_interval_min", 0)

	// Search defaults
	viper.SetDefault("search_limit", DefaultSearchLimit)
	viper.SetDefault("similarity_threshold", DefaultSimilarityThreshold)

	// Serve defaults
	viper.SetDefault("listen_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Observability defaults
	viper.SetDefault("otlp_agent_host", "localhost:4318")
	viper.SetDefault("service_name", "flyerbird")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; validation only
// checks its presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "FLYERBIRD_MODEL_NAME")
	mustBind("embedder_model", "FLYERBIRD_EMBEDDER_MODEL")
	mustBind("extractions_dir", "FLYERBIRD_EXTRACTIONS_DIR")
	mustBind("listen_addr", "FLYERBIRD_LISTEN_ADDR")
	mustBind("cors_origins", "FLYERBIRD_CORS_ORIGINS")
	mustBind("trust_proxy", "FLYERBIRD_TRUST_PROXY")
	mustBind("rate_burst", "FLYERBIRD_RATE_BURST")
	mustBind("environment", "FLYERBIRD_ENV")
}
