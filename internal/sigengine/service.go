// Package sigengine runs the live signal service: it consumes closed and
// forming candles from Redis, evaluates them per series and fans rows out to
// Redis, SQLite and WebSocket clients.
package sigengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"signal-enginev1/config"
	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/gateway"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/notification"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
	"signal-enginev1/internal/strategy"
)

// Service is the top-level orchestrator of the signal engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg    *config.Config
	engine *strategy.Engine
	proc   *Processor
	series []model.Metadata

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	rowWriter   *redisstore.BufferedWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	hub         *gateway.Hub
	alerts      *notification.Dispatcher

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	candleCh  chan model.CandleEvent
	archiveCh chan model.CandleEvent // closed candles → SQLite candles
	rowsIn    chan model.SignalRow   // closed rows → fanout
	fanout    *bus.FanOut[model.SignalRow]
}

// New creates a Service from cfg. It loads the strategy and connects to
// Redis and SQLite. Redis is required; SQLite failures only disable history.
func New(cfg *config.Config) (*Service, error) {
	stratCfg, err := strategy.LoadConfig(cfg.StrategyFile)
	if err != nil {
		return nil, err
	}
	if cfg.Timeframe != "" && cfg.Timeframe != stratCfg.Timeframe {
		slog.Warn("[sigengine] timeframe differs from strategy", "env", cfg.Timeframe, "strategy", stratCfg.Timeframe)
		stratCfg.Timeframe = cfg.Timeframe
	}
	engine, err := strategy.NewEngine(stratCfg)
	if err != nil {
		return nil, err
	}

	series := cfg.ParsePairs()
	if len(series) == 0 {
		return nil, fmt.Errorf("no valid series in PAIRS=%q", cfg.Pairs)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	keys := make([]string, len(series))
	for i, m := range series {
		keys[i] = m.Key()
	}
	health.SetSeries(keys)

	svc := &Service{
		cfg:       cfg,
		engine:    engine,
		proc:      NewProcessor(engine, prom, health),
		series:    series,
		reg:       reg,
		prom:      prom,
		health:    health,
		candleCh:  make(chan model.CandleEvent, cfg.RowBufferSize),
		archiveCh: make(chan model.CandleEvent, cfg.RowBufferSize),
		rowsIn:    make(chan model.SignalRow, cfg.RowBufferSize),
		fanout:    bus.New[model.SignalRow](cfg.RowBufferSize),
		alerts:    notification.NewDispatcher(buildNotifiers(cfg)...),
	}
	svc.fanout.OnDrop = func(name string) { prom.RowsDropped.WithLabelValues(name).Inc() }

	// ---- Connect to Redis ----
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.redisReader.OnMismatch = func(string) { prom.EventsRejected.WithLabelValues("stream_mismatch").Inc() }

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		OnWrite:  func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) },
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	health.SetRedisConnected(true)

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
		DBPath:   cfg.SQLitePath,
		OnCommit: func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) },
	})
	if err != nil {
		slog.Warn("[sigengine] sqlite writer init failed, continuing without persistence", "error", err)
	} else {
		health.SetSQLiteOK(true)
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		slog.Warn("[sigengine] sqlite reader init failed, continuing without warm-up", "error", err)
	}

	// ---- Gateway + HTTP ----
	svc.hub = gateway.NewHub()
	svc.hub.OnClientCount = func(n int) { prom.GatewayClients.Set(float64(n)) }

	svc.server = metrics.NewServer(cfg.HTTPAddr, health, reg)
	svc.server.Handle("/ws", http.HandlerFunc(svc.hub.HandleWS))
	svc.server.Handle("/api/missed", http.HandlerFunc(svc.hub.HandleMissed))
	NewAPI(engine, svc.proc, prom).Register(svc.server)

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	slog.Info("[sigengine] starting signal engine",
		"series", len(svc.series),
		"timeframe", svc.engine.Config().Timeframe,
		"warmup", svc.engine.Warmup())

	// Sinks run until their channels are closed during shutdown, so rows
	// produced while draining are still persisted.
	var sinks errgroup.Group
	svc.startSinks(&sinks)

	// ---- Restore, warm up, catch up ----
	svc.proc.Ensure(svc.series)
	svc.restore(ctx)
	svc.warmFromSQLite()

	streams := make([]string, len(svc.series))
	for i, m := range svc.series {
		streams[i] = redisstore.CandleStreamKey(m)
	}
	svc.backfillFromRedis(ctx, streams)

	if err := svc.redisReader.EnsureConsumerGroup(ctx, streams); err != nil {
		slog.Warn("[sigengine] consumer group setup", "error", err)
	}

	// ---- Start producers ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.processLoop(gctx) })
	g.Go(func() error {
		if err := svc.redisReader.RecoverPending(gctx, streams, svc.candleCh); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("[sigengine] pending recovery error", "error", err)
		}
		svc.health.SetConsumerOK(true)
		err := svc.redisReader.ConsumeCandles(gctx, streams, svc.candleCh)
		svc.health.SetConsumerOK(false)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return svc.redisReader.SubscribeFormingCandles(gctx, svc.candleCh) })
	g.Go(func() error { return svc.snapshotLoop(gctx) })
	g.Go(func() error {
		queueDepthLoop(gctx, svc.fanout, svc.prom, 5*time.Second)
		return nil
	})

	svc.health.StartLivenessChecker(gctx, svc.redisWriter.Client(), svc.sqlDB(), 10*time.Second)
	svc.server.Start()

	slog.Info("[sigengine] all systems running",
		"http", svc.cfg.HTTPAddr,
		"streams", streams,
		"snapshot_interval_s", svc.cfg.SnapshotIntervalS)

	err := g.Wait()
	if err != nil {
		slog.Error("[sigengine] subsystem failed", "error", err)
	}

	svc.shutdown(&sinks)
	return err
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// startSinks launches the row and candle writers.
func (svc *Service) startSinks(g *errgroup.Group) {
	bg := context.Background()

	cb := redisstore.NewCircuitBreaker(breakerConfig(svc.cfg))
	observeBreaker(cb, svc.prom, svc.health)
	svc.rowWriter = redisstore.NewBufferedWriter(bg, svc.redisWriter, cb, svc.cfg.RowBufferSize)
	svc.rowWriter.OnDrop = func(rows int) { svc.prom.RowsDropped.WithLabelValues("redis").Add(float64(rows)) }

	hubRows := svc.fanout.Subscribe("gateway")
	alertRows := svc.fanout.Subscribe("alerts")
	g.Go(func() error {
		svc.hub.Run(bg, hubRows)
		return nil
	})
	g.Go(func() error {
		svc.alerts.Run(bg, alertRows)
		return nil
	})

	if svc.sqlWriter != nil {
		sqlRows := svc.fanout.Subscribe("sqlite")
		g.Go(func() error {
			svc.sqlWriter.Run(bg, sqlRows)
			return nil
		})
		g.Go(func() error {
			svc.archiveLoop(svc.archiveCh)
			return nil
		})
	}

	// Run returns once rowsIn is closed, closing every subscriber channel.
	g.Go(func() error {
		svc.fanout.Run(bg, svc.rowsIn)
		return nil
	})
}

func breakerConfig(cfg *config.Config) redisstore.BreakerConfig {
	return redisstore.BreakerConfig{
		MaxFailures: cfg.RedisBreakerFailures,
		Cooldown:    time.Duration(cfg.RedisBreakerCooldownSec) * time.Second,
	}
}

// observeBreaker exports the breaker state and trips, and marks Redis
// unhealthy while writes are not flowing.
func observeBreaker(cb *redisstore.CircuitBreaker, prom *metrics.Metrics, health *metrics.HealthStatus) {
	prom.RedisCircuitState.Set(float64(cb.CurrentState()))
	cb.OnStateChange = func(from, to redisstore.State) {
		slog.Warn("[sigengine] redis circuit state change", "from", from.String(), "to", to.String())
		prom.RedisCircuitState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitTrips.Inc()
		}
		health.SetRedisConnected(to == redisstore.StateClosed)
	}
}

// recordQueueDepth exports how many rows wait in each fanout subscriber.
func recordQueueDepth(fo *bus.FanOut[model.SignalRow], prom *metrics.Metrics) {
	for _, st := range fo.ChannelStats() {
		prom.FanoutDepth.WithLabelValues(st.Name).Set(float64(st.Len))
	}
}

func queueDepthLoop(ctx context.Context, fo *bus.FanOut[model.SignalRow], prom *metrics.Metrics, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recordQueueDepth(fo, prom)
		}
	}
}

// buildNotifiers returns the alert backends enabled by cfg. Signals are
// always logged.
func buildNotifiers(cfg *config.Config) []notification.Notifier {
	ns := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return ns
}

// restore loads stream state from the newest snapshot, Redis first.
func (svc *Service) restore(ctx context.Context) {
	if from := svc.proc.restoreFrom(ctx, svc.snapshotStores()...); from != "" {
		slog.Info("[sigengine] streams restored", "from", from)
		return
	}
	slog.Info("[sigengine] no snapshot found, starting cold")
}

func (svc *Service) snapshotStores() []namedStore {
	stores := []namedStore{{name: "redis", store: svc.redisReader.SnapshotStore(svc.cfg.SnapshotKey)}}
	if svc.sqlWriter != nil {
		stores = append(stores, namedStore{name: "sqlite", store: svc.sqlWriter})
	}
	return stores
}

// warmFromSQLite appends stored candles newer than each stream's last candle.
func (svc *Service) warmFromSQLite() {
	if svc.sqlReader == nil {
		return
	}
	for _, m := range svc.series {
		var after int64
		if ts, ok := svc.proc.LastTS(m); ok {
			after = ts.Unix()
		}
		s, err := svc.sqlReader.ReadSeries(m, after)
		if err != nil {
			slog.Warn("[sigengine] sqlite warm-up read error", "series", m.Key(), "error", err)
			continue
		}
		if n := svc.proc.Warm(m, s.Candles); n > 0 {
			slog.Info("[sigengine] warmed up from sqlite", "series", m.Key(), "candles", n)
		}
	}
}

// backfillFromRedis replays every candle still held in the Redis streams.
// Candles the streams already hold are skipped; newer ones are evaluated and
// emitted like live candles.
func (svc *Service) backfillFromRedis(ctx context.Context, streams []string) {
	backfillCh := make(chan model.CandleEvent, 1000)
	go func() {
		defer close(backfillCh)
		for _, stream := range streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, "0", backfillCh); err != nil {
				slog.Warn("[sigengine] backfill error", "stream", stream, "error", err)
			}
		}
	}()

	n := 0
	for ev := range backfillCh {
		if !ev.Forming && svc.handleEvent(ctx, ev) {
			n++
		}
	}
	slog.Info("[sigengine] backfilled from redis streams", "candles", n)
}

// shutdown drains the sinks, saves a final snapshot and closes connections.
func (svc *Service) shutdown(sinks *errgroup.Group) {
	slog.Info("[sigengine] shutdown signal received, saving final snapshot")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.saveSnapshot(shutCtx, "shutdown")
	svc.server.Stop(shutCtx)

	close(svc.rowsIn)
	close(svc.archiveCh)
	sinks.Wait()

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	slog.Info("[sigengine] shutdown complete")
}
