package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Database.Path != "perch.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
database:
  path: /tmp/other.db
limits:
  signal_bytes_per_sec: 1024
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if cfg.Limits.SignalBytesPerSec != 1024 {
		t.Errorf("signal rate = %d", cfg.Limits.SignalBytesPerSec)
	}
	// Fields the file omits keep their defaults.
	if cfg.Limits.HTTPBurst != 30 {
		t.Errorf("http burst = %d, want default 30", cfg.Limits.HTTPBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `listen: ":9090"`)
	t.Setenv("PERCH_LISTEN", ":7000")
	t.Setenv("PERCH_DB", "/tmp/env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("listen = %s, env should win over the file", cfg.Listen)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad yaml":      "listen: [unclosed",
		"empty listen":  `listen: ""`,
		"negative rate": "limits:\n  signal_burst: -1",
	} {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
