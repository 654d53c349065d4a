package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Expected :9090, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Storage.BlockDuration != 24*time.Hour {
		t.Errorf("Expected 24h blocks, got %s", cfg.Storage.BlockDuration)
	}
	if !cfg.Storage.EnableWAL {
		t.Error("Expected WAL enabled by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tempomatch.yaml")
	content := `
server:
  listen_addr: ":8081"
storage:
  path: /var/lib/tempomatch
  compression_level: 4
match:
  window: 12h
  asymmetry: "<="
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("TEMPOMATCH_LOG_LEVEL", "debug")
	t.Setenv("TEMPOMATCH_STORAGE_COMPRESSION_LEVEL", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config invalid: %v", err)
	}

	if cfg.Server.ListenAddr != ":8081" {
		t.Errorf("Expected :8081, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Path != "/var/lib/tempomatch" {
		t.Errorf("Unexpected storage path %s", cfg.Storage.Path)
	}
	// environment wins over the file
	if cfg.Storage.CompressionLevel != 2 {
		t.Errorf("Expected compression level 2, got %d", cfg.Storage.CompressionLevel)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Match.Window != 12*time.Hour || cfg.Match.Asymmetry != "<=" {
		t.Errorf("Unexpected match defaults %+v", cfg.Match)
	}

	sc := cfg.ToStorageConfig()
	if sc.Path != cfg.Storage.Path || sc.CompressionLevel != 2 {
		t.Errorf("Unexpected storage config %+v", sc)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"no path", func(c *Config) { c.Storage.Path = "" }},
		{"zero block", func(c *Config) { c.Storage.BlockDuration = 0 }},
		{"bad compression", func(c *Config) { c.Storage.CompressionLevel = 5 }},
		{"empty cache", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"negative window", func(c *Config) { c.Match.Window = -time.Hour }},
		{"bad asymmetry", func(c *Config) { c.Match.Asymmetry = "<>" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
