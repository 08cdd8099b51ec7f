package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCoreConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadCoreConfigFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("loadCoreConfigFromPath: %v", err)
	}
	if cfg.DaemonAddress() != defaultDaemonAddress {
		t.Fatalf("unexpected daemon address: %q", cfg.DaemonAddress())
	}
	if cfg.CapabilityMode() != "mock" {
		t.Fatalf("unexpected capability mode: %q", cfg.CapabilityMode())
	}
	if cfg.EventRetention() != 200 {
		t.Fatalf("unexpected event retention: %d", cfg.EventRetention())
	}
	if cfg.MaxStepAttempts() != 3 {
		t.Fatalf("unexpected max step attempts: %d", cfg.MaxStepAttempts())
	}
	if cfg.StorageBackend() != "bbolt" {
		t.Fatalf("unexpected storage backend: %q", cfg.StorageBackend())
	}
}

func TestLoadCoreConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[daemon]
address = "http://127.0.0.1:9000/"

[storage]
backend = "file"

[capability]
mode = "deepseek"
concurrency = 8

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := loadCoreConfigFromPath(path)
	if err != nil {
		t.Fatalf("loadCoreConfigFromPath: %v", err)
	}
	if cfg.DaemonAddress() != "127.0.0.1:9000" {
		t.Fatalf("address not normalized: %q", cfg.DaemonAddress())
	}
	if cfg.DaemonBaseURL() != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected base url: %q", cfg.DaemonBaseURL())
	}
	if cfg.CapabilityMode() != "deepseek" || cfg.CapabilityConcurrency() != 8 {
		t.Fatalf("capability overrides not applied: %+v", cfg.Capability)
	}
	if cfg.LogLevel() != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel())
	}
	if cfg.StorageBackend() != "file" {
		t.Fatalf("storage backend override not applied: %q", cfg.StorageBackend())
	}
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FORGE_DATA_DIR", dir)
	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("DataDir = %q, want %q", got, dir)
	}
	runs, err := RunsDir()
	if err != nil {
		t.Fatalf("RunsDir: %v", err)
	}
	if runs != filepath.Join(dir, "runs") {
		t.Fatalf("unexpected runs dir: %q", runs)
	}
}
