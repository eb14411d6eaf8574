package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Transport != "stdio" {
		t.Fatalf("transport = %q, want stdio", cfg.Server.Transport)
	}
	if cfg.Tables.ToolRegistry != "toolregistry" {
		t.Fatalf("tool table = %q, want toolregistry", cfg.Tables.ToolRegistry)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  transport: sse\n  port: 9999\ntables:\n  toolregistry: custom_tools\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Transport != "sse" || cfg.Server.Port != 9999 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Tables.ToolRegistry != "custom_tools" {
		t.Fatalf("tool table = %q", cfg.Tables.ToolRegistry)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.LogLevel != "INFO" {
		t.Fatalf("log level = %q, want INFO", cfg.Server.LogLevel)
	}
}
