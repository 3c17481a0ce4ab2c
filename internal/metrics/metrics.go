package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-enginev1/internal/model"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	CandlesTotal      *prometheus.CounterVec // labels: series
	InvalidInputTotal *prometheus.CounterVec // labels: series
	SignalsTotal      *prometheus.CounterVec // labels: series, kind=enter|exit
	LastRSI           *prometheus.GaugeVec   // labels: series

	EvaluationsTotal prometheus.Counter
	EvaluateDur      prometheus.Histogram
	AppendDur        prometheus.Histogram
	WarmupCandles    prometheus.Gauge

	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	RowsDropped     *prometheus.CounterVec // labels: sink
	SnapshotsTotal  *prometheus.CounterVec // labels: target=redis|sqlite
	EventsRejected  *prometheus.CounterVec // labels: reason=unknown_series|stream_mismatch
	FanoutDepth     *prometheus.GaugeVec   // labels: subscriber

	RedisCircuitState prometheus.Gauge // 0 closed, 1 open, 2 half-open
	RedisCircuitTrips prometheus.Counter

	GatewayClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_candles_total",
			Help: "Closed candles appended to a series stream",
		}, []string{"series"}),
		InvalidInputTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_invalid_input_total",
			Help: "Candles or series rejected as invalid input",
		}, []string{"series"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_signals_total",
			Help: "Enter and exit signals emitted",
		}, []string{"series", "kind"}),
		LastRSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_engine_last_rsi",
			Help: "RSI of the latest closed candle",
		}, []string{"series"}),

		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_evaluations_total",
			Help: "Whole-series evaluations served",
		}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_evaluate_duration_seconds",
			Help:    "Whole-series evaluation latency",
			Buckets: prometheus.DefBuckets,
		}),
		AppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_append_duration_seconds",
			Help:    "Streaming evaluation latency per candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		WarmupCandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_warmup_candles",
			Help: "Configured warm-up window",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_redis_write_duration_seconds",
			Help:    "Redis pipeline latency for signal rows",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_rows_dropped_total",
			Help: "Rows dropped because a sink channel was full",
		}, []string{"sink"}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_snapshots_total",
			Help: "Stream snapshots persisted",
		}, []string{"target"}),

		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_events_rejected_total",
			Help: "Candle events ignored because they do not belong to a configured series",
		}, []string{"reason"}),
		FanoutDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_engine_fanout_queue_depth",
			Help: "Rows queued per fanout subscriber",
		}, []string{"subscriber"}),

		RedisCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_redis_circuit_state",
			Help: "Redis write circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		RedisCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_redis_circuit_trips_total",
			Help: "Times the Redis write circuit breaker opened",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_gateway_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.InvalidInputTotal,
		m.SignalsTotal,
		m.LastRSI,
		m.EvaluationsTotal,
		m.EvaluateDur,
		m.AppendDur,
		m.WarmupCandles,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RowsDropped,
		m.SnapshotsTotal,
		m.EventsRejected,
		m.FanoutDepth,
		m.RedisCircuitState,
		m.RedisCircuitTrips,
		m.GatewayClients,
	)

	return m
}

// RecordRow updates the per-series counters for one streamed row.
func (m *Metrics) RecordRow(row *model.SignalRow) {
	series := row.Meta.Key()
	m.CandlesTotal.WithLabelValues(series).Inc()
	if row.Enter {
		m.SignalsTotal.WithLabelValues(series, "enter").Inc()
	}
	if row.Exit {
		m.SignalsTotal.WithLabelValues(series, "exit").Inc()
	}
	if row.RSI != nil {
		m.LastRSI.WithLabelValues(series).Set(*row.RSI)
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	ConsumerOK     bool      `json:"consumer_ok"`
	Series         []string  `json:"series"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetConsumerOK(v bool) {
	h.mu.Lock()
	h.ConsumerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeries(keys []string) {
	h.mu.Lock()
	h.Series = keys
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.ConsumerOK || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		LastCandleTime  string   `json:"last_candle_time"`
		CandleAge       string   `json:"candle_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		ConsumerOK      bool     `json:"consumer_ok"`
		Series          []string `json:"series"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		ConsumerOK:      h.ConsumerOK,
		Series:          h.Series,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// handlers registered before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an extra route on the server mux.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("[metrics] server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("[metrics] server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
