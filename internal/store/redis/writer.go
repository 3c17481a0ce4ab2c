package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"signal-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	StreamMaxLen int64 // approximate MAXLEN of each stream; 0 means the default

	// OnWrite, when set, receives the duration of each pipeline.
	OnWrite func(time.Duration)
}

// Writer writes signal rows and candle events to Redis.
type Writer struct {
	client  *goredis.Client
	maxLen  int64
	onWrite func(time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}

	slog.Info("[redis] connected", "addr", cfg.Addr)
	return &Writer{client: client, maxLen: maxLen, onWrite: cfg.OnWrite}, nil
}

// WriteRows writes rows in a single pipeline: XADD to the signal stream,
// SET of the latest row and PUBLISH for real-time subscribers.
func (w *Writer) WriteRows(ctx context.Context, meta model.Metadata, rows []model.SignalRow) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()

	pipe := w.client.Pipeline()
	for i := range rows {
		row := &rows[i]
		m := meta
		if row.Meta != (model.Metadata{}) {
			m = row.Meta
		}
		jsonBytes := row.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStreamKey(m),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, LatestSignalKey(m), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, SignalChannel(m), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis signal pipeline (%d rows): %w", len(rows), err)
	}
	if w.onWrite != nil {
		w.onWrite(time.Since(start))
	}
	return nil
}

// PublishPreview publishes a row computed from a forming candle.
// Previews go to PubSub only, never to the stream or the latest key.
func (w *Writer) PublishPreview(ctx context.Context, row *model.SignalRow) error {
	return w.client.Publish(ctx, SignalChannel(row.Meta), row.JSON()).Err()
}

// PublishCandle appends a closed candle to its stream, or publishes a forming
// one on its channel.
func (w *Writer) PublishCandle(ctx context.Context, ev *model.CandleEvent) error {
	data := string(ev.JSON())
	if ev.Forming {
		return w.client.Publish(ctx, CandleChannel(ev.Meta), data).Err()
	}
	return w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: CandleStreamKey(ev.Meta),
		MaxLen: w.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
}

// Run reads rows from rowCh and writes each through WriteRows.
// Blocks until ctx is cancelled or rowCh is closed.
func (w *Writer) Run(ctx context.Context, rowCh <-chan model.SignalRow) {
	for {
		select {
		case <-ctx.Done():
			return
		case row, ok := <-rowCh:
			if !ok {
				return
			}
			if err := w.WriteRows(ctx, row.Meta, []model.SignalRow{row}); err != nil {
				slog.Error("[redis] write row", "series", row.Meta.Key(), "error", err)
			}
		}
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
