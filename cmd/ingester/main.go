package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainlens/internal/application"
	"chainlens/internal/config"
	"chainlens/internal/infrastructure/ethrpc"
	"chainlens/internal/infrastructure/kafka"
	"chainlens/internal/infrastructure/logging"
	"chainlens/internal/infrastructure/storage"
	"chainlens/internal/infrastructure/telemetry"
	"chainlens/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/ingester.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "chainlens-ingester", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	store, err := storage.Open(cfg)
	if err != nil {
		slog.Error("store error", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	var publisher application.StreamPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			slog.Error("kafka producer error", "err", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
	}

	metrics := httpapi.NewMetrics()
	httpServer, err := httpapi.NewServer(cfg, store, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ingester, err := application.NewIngester(rpcClient, store, publisher, metrics, application.IngesterConfig{
		PollInterval:     cfg.PollInterval,
		CatchUp:          cfg.CatchUp,
		CatchUpMaxBlocks: cfg.CatchUpMaxBlocks,
	})
	if err != nil {
		slog.Error("ingester error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	slog.Info("ingester starting",
		"rpc_url", cfg.RPCURL,
		"db_driver", cfg.DBDriver,
		"poll_interval", cfg.PollInterval.String(),
		"catch_up", cfg.CatchUp,
	)
	if err := ingester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("ingester stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("ingester shut down")
}
