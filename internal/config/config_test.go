package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DBPath != "dearq.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Day.CutoffHour != 5 || cfg.Day.UTCOffsetHours != 9 {
		t.Fatalf("unexpected day defaults: %+v", cfg.Day)
	}
	if cfg.Share.InviteTTLHours != 24 || cfg.Share.AnswerTTLHours != 168 {
		t.Fatalf("unexpected share defaults: %+v", cfg.Share)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dearq.yaml")
	data := []byte("addr: \":9999\"\nday:\n  cutoff_hour: 3\nshare:\n  invite_ttl_hours: 48\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %s, want :9999", cfg.Addr)
	}
	if cfg.Day.CutoffHour != 3 {
		t.Fatalf("cutoff = %d, want 3", cfg.Day.CutoffHour)
	}
	if cfg.Share.InviteTTLHours != 48 {
		t.Fatalf("invite ttl = %d, want 48", cfg.Share.InviteTTLHours)
	}
	// Unset keys keep their defaults.
	if cfg.DBPath != "dearq.db" || cfg.Day.UTCOffsetHours != 9 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEARQ_ADDR", ":7777")
	t.Setenv("DEARQ_DB", "/tmp/override.db")
	t.Setenv("DEARQ_JWT_SECRET", "super-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7777" || cfg.DBPath != "/tmp/override.db" || cfg.JWTSecret != "super-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadCutoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dearq.yaml")
	if err := os.WriteFile(path, []byte("day:\n  cutoff_hour: 24\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for cutoff_hour out of range")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dearq.yaml")
	if err := os.WriteFile(path, []byte("addr: [:::"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
