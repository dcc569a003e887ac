package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/wrangler/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	home := filepath.Join(t.TempDir(), "wrangler-home")
	t.Setenv("WRANGLER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.RegistryPath != filepath.Join(home, "agents.json") {
		t.Fatalf("unexpected registry path %q", cfg.RegistryPath)
	}
	if cfg.DefaultBackend != "terminal" {
		t.Fatalf("expected terminal default backend, got %q", cfg.DefaultBackend)
	}
	if cfg.LockTimeoutSeconds != 10 {
		t.Fatalf("expected lock timeout 10, got %d", cfg.LockTimeoutSeconds)
	}
	if len(cfg.HTTP.ProbePorts) == 0 {
		t.Fatal("expected default probe ports")
	}
}

func TestLoad_FromWranglerHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := "log_level: debug\nlock_timeout_seconds: 3\ntmux:\n  send_delay_ms: 250\n  prompt_marker: \"$ \"\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WRANGLER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level=debug got %q", cfg.LogLevel)
	}
	if cfg.LockTimeoutSeconds != 3 {
		t.Fatalf("expected lock_timeout_seconds=3 got %d", cfg.LockTimeoutSeconds)
	}
	if cfg.Tmux.SendDelayMs != 250 {
		t.Fatalf("expected send_delay_ms=250 got %d", cfg.Tmux.SendDelayMs)
	}
	if cfg.Tmux.PromptMarker != "$ " {
		t.Fatalf("unexpected prompt marker %q", cfg.Tmux.PromptMarker)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("WRANGLER_HOME", home)
	t.Setenv("WRANGLER_BACKEND", "http_session")
	t.Setenv("WRANGLER_TRACKER_CMD", "beads")
	t.Setenv("WRANGLER_LOCK_TIMEOUT", "7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultBackend != "http_session" {
		t.Fatalf("expected http_session, got %q", cfg.DefaultBackend)
	}
	if cfg.Tracker.Command != "beads" {
		t.Fatalf("expected beads, got %q", cfg.Tracker.Command)
	}
	if cfg.LockTimeoutSeconds != 7 {
		t.Fatalf("expected 7, got %d", cfg.LockTimeoutSeconds)
	}
}

func TestLoad_InvalidBackendFallsBack(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("WRANGLER_HOME", home)
	t.Setenv("WRANGLER_BACKEND", "carrier-pigeon")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultBackend != "terminal" {
		t.Fatalf("expected fallback to terminal, got %q", cfg.DefaultBackend)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WRANGLER_HOME", home)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, b := cfg.Fingerprint(), cfg.Fingerprint()
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	cfg.LockTimeoutSeconds = 99
	if cfg.Fingerprint() == a {
		t.Fatal("fingerprint did not change with config")
	}
}
