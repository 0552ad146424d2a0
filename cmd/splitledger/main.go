package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"splitledger/internal/cli"
	apphttp "splitledger/internal/http"
	"splitledger/internal/log"
	"splitledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient, err := cli.InitAMQP(logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	// Keep the interface nil when AMQP is off so the services skip publishing.
	var publisher services.EventPublisher
	if amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	balances := services.NewBalanceService(repo, cfg.BalanceCacheSize, cfg.BalanceCacheTTL, logger)
	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheCleanup:       cfg.BalanceCacheTTL,
	}, apphttp.Deps{
		Store:    repo,
		Charges:  services.NewChargeService(repo, publisher, balances, logger),
		Balances: balances,
		Groups:   services.NewGroupService(repo, publisher, logger),
		Logger:   logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting splitledger server",
		"port", cfg.Port,
		"db", cfg.SQLiteDBPath,
		"amqp_enabled", cfg.AMQPEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
