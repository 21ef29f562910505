package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainlens/internal/config"
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

// Read-only API process. It serves the same endpoints the ingester embeds,
// but can be scaled out independently against the shared store.
func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/api.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "chainlens-api", cfg.OtelEndpoint)
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

	httpServer, err := httpapi.NewServer(cfg, store, nil, nil, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("api listening", "addr", cfg.HTTPAddr, "db_driver", cfg.DBDriver, "redis", cfg.RedisAddr != "")
	if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}
	slog.Info("api shut down")
}
