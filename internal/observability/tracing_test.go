package observability

import (
	"context"
	"testing"
)

func TestSetupReturnsShutdown(t *testing.T) {
	// No collector listens during tests; the batch processor buffers spans
	// without connecting until export, so setup itself must still succeed.
	shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "localhost:0",
		ServiceName: "flyerbird-test",
		Environment: "test",
	})
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown func")
	}
}

func TestSetupDefaultsEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup() unexpected error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown func")
	}
}
