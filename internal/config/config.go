// Package config loads the realtime server's settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration. Every field maps to one
// environment variable.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	// NATSURL and RedisAddr may be empty to run without the event bus or
	// the session mirror and rate limiting.
	NATSURL    string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	RedisAddr  string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	ServerName string `env:"SERVER_NAME"`

	// DatabaseURL selects the PostgreSQL status repository. Empty keeps
	// preferred statuses in memory.
	DatabaseURL   string `env:"DATABASE_URL"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	JWTSecret           string `env:"JWT_SECRET"`
	JWTIssuer           string `env:"JWT_ISSUER" envDefault:"whisper"`
	AllowInsecureUserID bool   `env:"AUTH_ALLOW_INSECURE_USER_ID" envDefault:"false"`

	TypingTTL            time.Duration `env:"TYPING_TTL" envDefault:"5s"`
	StatusSweepInterval  time.Duration `env:"STATUS_SWEEP_INTERVAL" envDefault:"5s"`
	StatusPersistTimeout time.Duration `env:"STATUS_PERSIST_TIMEOUT" envDefault:"5s"`

	// MetricsAddr serves /metrics on a separate listener when set; otherwise
	// metrics share the WebSocket listener.
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _ = os.Hostname()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "ws-1"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("config: TYPING_TTL must be positive, got %s", c.TypingTTL)
	}
	if c.JWTSecret == "" && !c.AllowInsecureUserID {
		return fmt.Errorf("config: JWT_SECRET is required unless AUTH_ALLOW_INSECURE_USER_ID is set")
	}
	return nil
}
