package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signal-enginev1/config"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/sigengine"
)

func main() {
	cfg := config.Load()
	logger.Init("sigengine", logger.ParseLevel(cfg.LogLevel))
	slog.Info("[sigengine] config loaded",
		"pairs", cfg.Pairs,
		"timeframe", cfg.Timeframe,
		"snapshot_interval_s", cfg.SnapshotIntervalS)

	svc, err := sigengine.New(cfg)
	if err != nil {
		slog.Error("[sigengine] init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		slog.Error("[sigengine] fatal", "error", err)
		os.Exit(1)
	}
}
