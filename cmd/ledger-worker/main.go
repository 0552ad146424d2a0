package main

import (
	"os"
	"time"

	"splitledger/internal/cli"
	"splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	exporter, err := cli.InitExporter(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", log.FieldError, err)
		os.Exit(1)
	}

	var processor *services.ExportProcessor
	if exporter != nil {
		balances := services.NewBalanceService(repo, cfg.BalanceCacheSize, cfg.BalanceCacheTTL, logger)
		processor = services.NewExportProcessor(repo, exporter, balances, services.ExportProcessorConfig{
			PollInterval: cfg.ExportInterval,
			BatchSize:    cfg.ExportBatchSize,
			MaxRetries:   cfg.ExportMaxRetries,
		}, logger)

		// Catch up on charges written while the worker was down.
		if n, err := processor.ProcessPending(ctx); err != nil {
			logger.Error("Startup export check failed", log.FieldError, err)
		} else if n > 0 {
			logger.Info("Startup export check complete", "exported", n)
		}
	}

	amqpClient, err := cli.InitAMQP(logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	var consumer worker.Consumer
	if amqpClient != nil {
		defer amqpClient.Close()
		consumer = amqpClient
	} else if processor == nil {
		logger.Error("Nothing to do: set AMQP_URL or EXPORT_TARGET")
		os.Exit(1)
	}

	w := worker.NewExportWorker(repo, processor, logger)
	if err := w.Run(ctx, consumer); err != nil && ctx.Err() == nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}

