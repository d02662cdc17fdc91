package config

import (
	"os"
	"testing"
	"time"
)

func TestWatch_AppliesReload(t *testing.T) {
	path := writeConfig(t, "server:\n  session_ttl: 1h\n")

	applied := make(chan *Config, 4)
	stop, err := Watch(path, func(cfg *Config) { applied <- cfg })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("server:\n  session_ttl: 15m\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Server.SessionTTL.Std() != 15*time.Minute {
			t.Errorf("session ttl = %v, want 15m", cfg.Server.SessionTTL.Std())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("change never applied")
	}
}

func TestWatch_SkipsBrokenReload(t *testing.T) {
	path := writeConfig(t, "server:\n  session_ttl: 1h\n")

	applied := make(chan *Config, 4)
	stop, err := Watch(path, func(cfg *Config) { applied <- cfg })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("server: [broken"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-applied:
		t.Errorf("broken config applied: %+v", cfg)
	case <-time.After(reloadDebounce * 3):
	}
}

func TestWatch_MissingFile(t *testing.T) {
	if _, err := Watch("/nonexistent/comicscan.yaml", func(*Config) {}); err == nil {
		t.Error("watching a missing file should fail")
	}
}

func TestWatch_StopIdempotent(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8790\n")
	stop, err := Watch(path, func(*Config) {})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	stop()
	stop()
}
