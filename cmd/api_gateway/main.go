// cmd/api_gateway serves signal rows to browsers without running the engine:
// it follows the Redis signal channels, fans rows out over WebSocket and
// answers REST queries from the Redis streams.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-enginev1/config"
	"signal-enginev1/internal/api"
	"signal-enginev1/internal/gateway"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/model"
	redisstore "signal-enginev1/internal/store/redis"
)

func main() {
	cfg := config.Load()
	logger.Init("api_gateway", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		slog.Error("[api_gateway] redis connection failed", "error", err)
		os.Exit(1)
	}
	defer reader.Close()

	hub := gateway.NewHub()
	rows := make(chan model.SignalRow, cfg.RowBufferSize)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewRouter(reader, cfg.ParsePairs()))
	mux.HandleFunc("/api/missed", hub.HandleMissed)
	mux.HandleFunc("/ws", hub.HandleWS)

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           api.WithCORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.SubscribeSignals(gctx, rows) })
	g.Go(func() error {
		hub.Run(gctx, rows)
		return nil
	})
	g.Go(func() error {
		slog.Info("[api_gateway] listening", "addr", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("[api_gateway] stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("[api_gateway] shutdown complete")
}
