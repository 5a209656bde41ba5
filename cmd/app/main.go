package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recharge-core/internal/audit"
	"recharge-core/internal/cache"
	"recharge-core/internal/config"
	"recharge-core/internal/ecare"
	"recharge-core/internal/httpserver"
	"recharge-core/internal/logging"
	"recharge-core/internal/metrics"
	"recharge-core/internal/offers"
	"recharge-core/internal/ratelimit"
	"recharge-core/internal/repo"
	"recharge-core/internal/saga"
	"recharge-core/internal/wallet"
	"recharge-core/migrations"

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

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting recharge-core", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	settingsStore, err := config.NewSettingsStore(cfg.SettingsFile, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := settingsStore.Current

	repository, err := repo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

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
		logger.Warn("redis ping failed", "error", err)
	}

	provider := ecare.New(ecare.Config{
		BaseURL:    cfg.ProviderBaseURL,
		AccessID:   cfg.ProviderAccessID,
		AccessPass: cfg.ProviderAccessPass,
		Timeout:    cfg.ProviderTimeout,
	}, logger, metricRegistry)

	walletLedger := wallet.New(repository, metricRegistry, logger)
	auditor := audit.New(repository, metricRegistry, logger)
	limiter := ratelimit.New(repository, settings, metricRegistry, logger)
	offerService := offers.New(provider, redisClient, settings, metricRegistry, logger)
	orchestrator := saga.New(repository, provider, limiter, offerService, auditor, settings, metricRegistry, logger)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, cfg.AdminToken, logger, metricRegistry, httpserver.Dependencies{
		Saga:       orchestrator,
		Offers:     offerService,
		Wallet:     walletLedger,
		Repository: repository,
		Provider:   provider,
		Settings:   settings,
	}, cfg.PublicBasePath)

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
