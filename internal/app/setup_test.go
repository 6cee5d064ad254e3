package app

import (
	"context"
	"errors"
	"testing"

	"github.com/flyerbird/flyerbird/internal/config"
)

func TestSetupRejectsInvalidConfig(t *testing.T) {
	var cfg *config.Config
	if _, err := Setup(context.Background(), cfg); !errors.Is(err, config.ErrConfigNil) {
		t.Fatalf("Setup(nil config) error = %v, want ErrConfigNil", err)
	}
}

func TestSetupRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg := &config.Config{
		ModelName:           config.DefaultModelName,
		EmbedderModel:       config.DefaultEmbedderModel,
		PostgresHost:        "localhost",
		PostgresPort:        5432,
		PostgresUser:        "flyerbird",
		PostgresDBName:      "flyerbird",
		PostgresSSLMode:     "disable",
		DBBatchSize:         config.DefaultDBBatchSize,
		ProviderBatchSize:   config.DefaultProviderBatchSize,
		SearchLimit:         config.DefaultSearchLimit,
		SimilarityThreshold: config.DefaultSimilarityThreshold,
	}

	if _, err := Setup(context.Background(), cfg); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("Setup() without API key error = %v, want ErrMissingAPIKey", err)
	}
}

func TestCloseOnPartialApp(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() on empty App: %v", err)
	}
}
