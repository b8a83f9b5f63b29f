package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/challenge-engine/internal/api"
	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/cleanup"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/events"
	"github.com/terra-clan/challenge-engine/internal/keylock"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/storage"
	"github.com/terra-clan/challenge-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting challenge-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.Driver,
		"lock_backend", cfg.Engine.LockBackend,
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	shutdownTracing, err := telemetry.Setup(initCtx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	repo, pg, err := openStore(initCtx, cfg.Database)
	if err != nil {
		slog.Error("failed to open progress store", "error", err)
		os.Exit(1)
	}
	slog.Info("progress store ready", "driver", cfg.Database.Driver)

	// Redis backs live state, rewards, distributed locks and event fan-out
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb, err = services.NewRedisClient(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	}

	registry := services.NewRegistry()
	var state *services.RedisState
	var locker keylock.Locker = keylock.NewLocal()
	bus := events.NewBus()

	if rdb != nil {
		state = services.NewRedisState(rdb, cfg.Redis.KeyPrefix)
		wallet := services.NewRedisWallet(rdb, cfg.Redis.KeyPrefix)
		registry.Register("points", wallet)
		registry.Register("money", wallet)
		registry.Register("item", services.NewRedisInventory(rdb, cfg.Redis.KeyPrefix))

		bus.Subscribe(events.NewRedisPublisher(rdb, cfg.Redis.Channel).Listener())

		if cfg.Engine.LockBackend == "redis" {
			locker = keylock.NewRedis(rdb, keylock.RedisConfig{
				Prefix:  cfg.Redis.KeyPrefix + "lock:",
				TTL:     cfg.Engine.LockTTL,
				MaxWait: cfg.Engine.LockTimeout,
			})
		}
	}
	slog.Info("reward granters registered", "types", registry.List())

	loader := catalog.NewLoader(cfg.Catalog.Dir)
	if err := loader.LoadFromDir(); err != nil {
		// worlds that failed validation stay unloaded, the rest are served
		slog.Warn("failed to load some challenge definitions", "dir", cfg.Catalog.Dir, "error", err)
	}
	slog.Info("challenge definitions loaded", "worlds", loader.Worlds())

	// a nil *RedisState must not become a non-nil interface
	var provider services.StateProvider
	var mutator services.StateMutator
	if state != nil {
		provider, mutator = state, state
	}
	eng := engine.NewEngine(cfg.Engine, loader, repo, mutator, registry, locker, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pg != nil && cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(loader, cfg.Database.DSN, cfg.Catalog.ReloadChannel)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	cleaner := cleanup.NewCleaner(repo, cfg.Cleanup.Interval, cfg.Cleanup.AuditRetention)
	cleaner.Start(ctx)

	server := api.NewServer(cfg.Server, eng, loader, provider, repo)
	if pg != nil {
		server.SetReloadNotifier(pg, cfg.Catalog.ReloadChannel)
	}
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown error", "error", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if err := repo.Close(); err != nil {
		slog.Error("progress store close error", "error", err)
	}

	slog.Info("challenge-engine stopped")
}

// openStore opens the configured progress store. The Postgres repository is
// also returned on its own since it carries reload notifications.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Repository, *storage.PostgresRepository, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		store, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		slog.Info("running database migrations", "dir", cfg.MigrationsDir)
		if err := storage.MigrateFromDSN(ctx, cfg.DSN, cfg.MigrationsDir); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
}
