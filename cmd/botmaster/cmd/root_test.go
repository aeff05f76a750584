package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"botmaster/internal/config"
	"botmaster/internal/export"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "migrate": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered with root command", name)
		}
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected a persistent --config flag")
	}
}

func TestMigrate_RejectsUnknownDirection(t *testing.T) {
	rootCmd.SetArgs([]string{"migrate", "sideways"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := Execute(); err == nil {
		t.Error("expected error for an unknown migration direction")
	}
}

func TestServe_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	rootCmd.SetArgs([]string{"serve"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	if err == nil || !strings.Contains(err.Error(), "database_url is required") {
		t.Errorf("expected missing database_url error, got %v", err)
	}
}

func TestNewSigner_StaticWithoutBucket(t *testing.T) {
	cfg := &config.Config{ExportBaseURL: "http://localhost:6161/exports"}

	signer, closeSigner, err := newSigner(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newSigner: %v", err)
	}
	defer closeSigner()

	if _, ok := signer.(*export.StaticSigner); !ok {
		t.Errorf("signer = %T, want *export.StaticSigner", signer)
	}
}

func TestNewSigner_InvalidBaseURL(t *testing.T) {
	cfg := &config.Config{ExportBaseURL: "exports"}

	if _, _, err := newSigner(context.Background(), cfg); err == nil {
		t.Error("expected error for a relative export base url")
	}
}
