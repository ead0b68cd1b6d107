package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.WorkerPoolSize != 256 {
		t.Errorf("WorkerPoolSize = %d, want 256", cfg.WorkerPoolSize)
	}
	if cfg.TypingTTL != 5*time.Second {
		t.Errorf("TypingTTL = %s, want 5s", cfg.TypingTTL)
	}
	if !cfg.RunMigrations {
		t.Error("RunMigrations should default to true")
	}
	if cfg.ServerName == "" {
		t.Error("ServerName should fall back to a non-empty value")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("READ_TIMEOUT", "250ms")
	t.Setenv("TYPING_TTL", "2s")
	t.Setenv("DATABASE_URL", "postgres://localhost/whisper")
	t.Setenv("SERVER_NAME", "ws-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.WorkerPoolSize != 8 {
		t.Errorf("unexpected listener settings: %+v", cfg)
	}
	if cfg.ReadTimeout != 250*time.Millisecond {
		t.Errorf("ReadTimeout = %s, want 250ms", cfg.ReadTimeout)
	}
	if cfg.TypingTTL != 2*time.Second {
		t.Errorf("TypingTTL = %s, want 2s", cfg.TypingTTL)
	}
	if cfg.DatabaseURL != "postgres://localhost/whisper" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.ServerName != "ws-7" {
		t.Errorf("ServerName = %q, want ws-7", cfg.ServerName)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_ALLOW_INSECURE_USER_ID", "false")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without JWT_SECRET")
	}

	t.Setenv("AUTH_ALLOW_INSECURE_USER_ID", "true")
	if _, err := Load(); err != nil {
		t.Fatalf("insecure mode should not need a secret: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WORKER_POOL_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a zero worker pool")
	}

	t.Setenv("WORKER_POOL_SIZE", "many")
	if _, err := Load(); err == nil {
		t.Fatal("expected a parse error for a non-numeric worker pool")
	}
}
