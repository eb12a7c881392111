package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sub-shop/internal/affiliate"
	"sub-shop/internal/auth"
	"sub-shop/internal/cache"
	"sub-shop/internal/config"
	"sub-shop/internal/httpserver"
	"sub-shop/internal/ledger"
	"sub-shop/internal/logging"
	"sub-shop/internal/metrics"
	"sub-shop/internal/repo"
	"sub-shop/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting sub-shop", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var sessions affiliate.ReferralSessions
	var catalogue httpserver.CatalogueCache
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		sessions = cache.NewReferralSessions(redisClient, cfg.ReferralTTL)
		catalogue = cache.NewCatalogueCache(redisClient, cfg.CatalogueTTL)
		logger.Info("referral sessions and catalogue cache backed by redis", "addr", cfg.RedisAddr)
	} else {
		sessions = affiliate.NewMemorySessions(cfg.ReferralTTL)
		logger.Warn("no redis configured, referral sessions are process-local")
	}

	ledgerEngine := ledger.NewEngine(store, logger, metricRegistry, cfg.MinWithdrawal, cfg.MinDeposit)
	affiliateEngine := affiliate.NewEngine(store, ledgerEngine, sessions, logger, metricRegistry, cfg.PublicBaseURL)
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	go runRetentionSweeper(ctx, ledgerEngine, cfg.SweepInterval)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, store, ledgerEngine, affiliateEngine, tokenManager, catalogue, logger, metricRegistry)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// openStore picks the backing store from the database URL: postgres for a
// postgres:// URL, SQLite for a file path, in-memory when unset.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Store, error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		return repo.NewPostgres(ctx, cfg.DatabaseURL, logger)
	case cfg.DatabaseURL != "":
		return repo.NewSQLite(ctx, cfg.DatabaseURL, logger)
	default:
		logger.Warn("no database configured, using in-memory store")
		return repo.NewMemory(), nil
	}
}

// runRetentionSweeper purges aged ledger entries on a fixed interval until
// the context is cancelled.
func runRetentionSweeper(ctx context.Context, engine *ledger.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_, _ = engine.RetentionSweep(sweepCtx, now)
			cancel()
		}
	}
}
