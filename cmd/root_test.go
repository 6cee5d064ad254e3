package cmd

import (
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"ingest":  false,
		"embed":   false,
		"migrate": false,
		"version": false,
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestIngestArgsValidation(t *testing.T) {
	if err := ingestCmd.Args(ingestCmd, []string{"a", "b"}); err == nil {
		t.Fatal("ingest should reject more than one positional argument")
	}
	if err := ingestCmd.Args(ingestCmd, nil); err != nil {
		t.Fatalf("ingest with no args should be valid: %v", err)
	}
}
