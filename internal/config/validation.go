package config

import (
	"fmt"
	"os"
)

// validSSLModes are the sslmode values accepted by PostgreSQL.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for invalid values.
// Called by Load() so an invalid configuration never leaves this package.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.DBBatchSize < 1 || c.DBBatchSize > 10000 {
		return fmt.Errorf("%w: db_batch_size %d out of range 1-10000", ErrInvalidBatchSize, c.DBBatchSize)
	}
	if c.ProviderBatchSize < 1 || c.ProviderBatchSize > 250 {
		return fmt.Errorf("%w: provider_batch_size %d out of range 1-250", ErrInvalidBatchSize, c.ProviderBatchSize)
	}

	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v out of range [-1, 1]", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.SearchLimit < 1 || c.SearchLimit > 500 {
		return fmt.Errorf("%w: %d out of range 1-500", ErrInvalidLimit, c.SearchLimit)
	}

	return nil
}

// ValidateAI checks that credentials required for AI-backed commands are
// present. Separate from Validate so storage-only commands (migrate) can run
// without an API key.
func (c *Config) ValidateAI() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is not set", ErrMissingAPIKey)
	}
	return nil
}
