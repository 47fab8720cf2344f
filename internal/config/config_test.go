package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.JoinMode != JoinSync {
		t.Errorf("JoinMode = %q, want sync", cfg.JoinMode)
	}
	if !cfg.ChatEnabled {
		t.Error("ChatEnabled should default true")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.conf")
	content := "# comment\nport: 8080\nvolume_step: 99\njoin_mode: reset\nserver_mode: true\nmalformed line without colon\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.VolumeStep != 5 {
		t.Errorf("VolumeStep = %d, want default 5 (99 out of range)", cfg.VolumeStep)
	}
	if cfg.JoinMode != JoinReset {
		t.Errorf("JoinMode = %q, want reset", cfg.JoinMode)
	}
	if !cfg.ServerMode {
		t.Error("ServerMode should be true")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.conf")
	if err := os.WriteFile(path, []byte("port: 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNC_PORT", "9090")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 (env override)", cfg.Port)
	}
}

func TestInvalidValueRevertsToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.conf")
	if err := os.WriteFile(path, []byte("port: not-a-number\nbsl_s2_mode: neither\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want default 3000", cfg.Port)
	}
	if cfg.BSLMode != BSLAny {
		t.Errorf("BSLMode = %q, want default any", cfg.BSLMode)
	}
}
