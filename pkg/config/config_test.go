package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestBindDBFlagsParsesOverrides(t *testing.T) {
	cfg := DefaultDB()
	cmd := &cobra.Command{Use: "test"}
	BindDBFlags(cmd, &cfg)

	cmd.SetArgs([]string{"--port", "9999", "--enable-auth", "--maximum-clients", "50"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9999 {
		t.Fatalf("port = %d, want 9999", cfg.Port)
	}
	if !cfg.EnableAuth {
		t.Fatal("enable-auth flag did not set EnableAuth")
	}
	if cfg.MaximumClients != 50 {
		t.Fatalf("maximum-clients = %d, want 50", cfg.MaximumClients)
	}
}

func TestBindAIFlagsIncludesDBFlags(t *testing.T) {
	cfg := DefaultAI()
	cmd := &cobra.Command{Use: "test"}
	BindAIFlags(cmd, &cfg)

	cmd.SetArgs([]string{"--db-port", "1369", "--host", "127.0.0.1", "--without-db"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if cfg.DBPort != 1369 {
		t.Fatalf("db-port = %d, want 1369", cfg.DBPort)
	}
	if cfg.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want 127.0.0.1", cfg.Host)
	}
	if !cfg.WithoutDB {
		t.Fatal("without-db flag did not set WithoutDB")
	}
}

func TestLoadAuthTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.yaml")
	content := "users:\n  - username: alice\n    api_key_hash: deadbeef\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadAuthTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if got["alice"] != "deadbeef" {
		t.Fatalf("users = %v, want alice -> deadbeef", got)
	}
}
