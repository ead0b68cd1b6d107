package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisper/realtime/internal/config"
	"github.com/whisper/realtime/internal/hub"
	"github.com/whisper/realtime/internal/identity"
	"github.com/whisper/realtime/internal/messaging"
	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/presence"
	"github.com/whisper/realtime/internal/ratelimit"
	"github.com/whisper/realtime/internal/session"
	"github.com/whisper/realtime/internal/status"
	"github.com/whisper/realtime/internal/typing"
	"github.com/whisper/realtime/internal/voice"
	"github.com/whisper/realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Status repository ---
	var repo status.Repository = status.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := status.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := status.Migrate(db); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
		repo = status.NewPostgresRepository(db)
	}
	statusStore := status.NewStore(repo, cfg.StatusPersistTimeout)

	// --- NATS ---
	var events hub.Events
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err := messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Printf("NATS unavailable, presence events disabled: %v", err)
		} else {
			defer natsClient.Close()
			events = messaging.NewPublisher(natsClient, cfg.ServerName)
		}
	}

	// --- Redis ---
	var (
		sessionStore *session.Store
		limiter      hub.Limiter
	)
	if cfg.RedisAddr != "" {
		sessionStore, err = session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			log.Printf("Redis unavailable, sessions and rate limits disabled: %v", err)
			sessionStore = nil
		} else {
			defer sessionStore.Close()
			limiter = ratelimit.NewLimiter(sessionStore.Client())
		}
	}

	verifier := identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	auth := identity.NewAuthenticator(verifier, cfg.AllowInsecureUserID)

	log.Printf("Whisper realtime server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  postgres:        %v", cfg.DatabaseURL != "")
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  typing_ttl:      %s", cfg.TypingTTL)

	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		ServeMetrics:   cfg.MetricsAddr == "",
	}

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(wsConfig, auth, sessionStore, dispatcher.Dispatch)

	h := hub.New(hub.Deps{
		Transport: server,
		Identity:  server,
		Presence:  presence.NewRegistry(),
		Typing:    typing.NewTracker(cfg.TypingTTL),
		Voice:     voice.NewCoordinator(),
		Status:    statusStore,
		Events:    events,
		Limiter:   limiter,
	})
	registerHandlers(dispatcher, h)

	server.SetOnConnect(func(connID string) {
		h.OnConnected(context.Background(), connID)
	})
	server.SetOnDisconnect(func(connID string) {
		h.OnDisconnected(context.Background(), connID)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		status.RunSweeper(gctx, statusStore, cfg.StatusSweepInterval, h.OnStatusesExpired)
		return nil
	})

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		g.Go(func() error {
			log.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
		statusStore.Flush()
		os.Exit(1)
	}
	statusStore.Flush()
	log.Printf("server stopped")
}
