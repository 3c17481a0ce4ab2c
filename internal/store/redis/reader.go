package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"signal-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const replayPageSize = 1000

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "sigengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader reads candle events from Redis Streams via Consumer Groups
// and manages stream snapshots in Redis.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string

	// OnMismatch is called when an event's series does not match the stream
	// or channel it was read from. Such events are skipped.
	OnMismatch func(source string)
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "sigengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	slog.Info("[redis-reader] connected", "addr", cfg.Addr, "group", group, "consumer", consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client.
func (r *Reader) Client() *goredis.Client { return r.client }

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "0" so candles queued before the first start are seen.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// decodeEvent parses a stream message. ok is false for poison messages.
func decodeEvent(values map[string]interface{}) (model.CandleEvent, bool) {
	data, ok := values["data"].(string)
	if !ok {
		return model.CandleEvent{}, false
	}
	var ev model.CandleEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		slog.Warn("[redis-reader] unmarshal CandleEvent", "error", err)
		return model.CandleEvent{}, false
	}
	return ev, true
}

// decodeFrom decodes a message read from source and checks that the event
// belongs to the series source is keyed by. want maps the event's series to
// the key it must have arrived on.
func (r *Reader) decodeFrom(source string, values map[string]interface{}, want func(model.Metadata) string) (model.CandleEvent, bool) {
	ev, ok := decodeEvent(values)
	if !ok {
		return ev, false
	}
	if want(ev.Meta) != source {
		slog.Warn("[redis-reader] event series does not match source", "source", source, "series", ev.Meta.Key())
		if r.OnMismatch != nil {
			r.OnMismatch(source)
		}
		return model.CandleEvent{}, false
	}
	return ev, true
}

// ConsumeCandles reads candle events using the consumer group and sends them
// to out. Messages are ACKed once handed off, bad messages immediately.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeCandles(ctx context.Context, streams []string, out chan<- model.CandleEvent) error {
	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Error("[redis-reader] xreadgroup error", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.CandleEvent) error {
	for _, msg := range msgs {
		ev, ok := r.decodeFrom(stream, msg.Values, CandleStreamKey)
		if ok {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// ACK bad messages too, to avoid poison pills
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// RecoverPending re-delivers messages this group read but never ACKed,
// for at-least-once processing after a crash.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.CandleEvent) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				slog.Error("[redis-reader] xclaim error", "stream", stream, "error", err)
				break
			}
			if err := r.deliver(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReplayFromID reads every message of stream after startID and returns the
// last ID seen. Used for warm-up without touching the consumer group.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.CandleEvent) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPageSize).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range results {
			lastID = msg.ID
			ev, ok := r.decodeFrom(stream, msg.Values, CandleStreamKey)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < replayPageSize {
			return lastID, nil
		}
	}
}

// ReadSnapshotJSON loads a snapshot document from key. Returns nil, nil when absent.
func (r *Reader) ReadSnapshotJSON(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no snapshot found
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", key, err)
	}
	return data, nil
}

// WriteSnapshotJSON stores a snapshot document under key for 24h.
// Snapshots are also kept in SQLite for durability.
func (r *Reader) WriteSnapshotJSON(ctx context.Context, key string, data []byte) error {
	return r.client.Set(ctx, key, data, 24*time.Hour).Err()
}

// SnapshotStore binds the snapshot methods to one key.
func (r *Reader) SnapshotStore(key string) *SnapshotStore {
	return &SnapshotStore{r: r, key: key}
}

// SnapshotStore implements model.SnapshotStore on a single Redis key.
type SnapshotStore struct {
	r   *Reader
	key string
}

// SaveSnapshotJSON implements model.SnapshotStore.
func (s *SnapshotStore) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	return s.r.WriteSnapshotJSON(ctx, s.key, data)
}

// ReadLatestSnapshotJSON implements model.SnapshotStore.
func (s *SnapshotStore) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	return s.r.ReadSnapshotJSON(ctx, s.key)
}

// LatestRow returns the latest stored row of meta, or nil.
func (r *Reader) LatestRow(ctx context.Context, meta model.Metadata) (*model.SignalRow, error) {
	data, err := r.client.Get(ctx, LatestSignalKey(meta)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get latest %s: %w", meta.Key(), err)
	}
	var row model.SignalRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("unmarshal latest %s: %w", meta.Key(), err)
	}
	return &row, nil
}

// SubscribeFormingCandles forwards forming candles published on
// pub:candle:* to out, dropping when out is full. Closed candles arrive via
// the consumer group instead. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.CandleEvent) error {
	pubsub := r.client.PSubscribe(ctx, CandleChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := r.decodeFrom(msg.Channel, map[string]interface{}{"data": msg.Payload}, CandleChannel)
			if !ok || !ev.Forming {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}
}

// SubscribeSignals forwards rows published on every signal channel.
// Blocks until ctx is cancelled.
func (r *Reader) SubscribeSignals(ctx context.Context, out chan<- model.SignalRow) error {
	pubsub := r.client.PSubscribe(ctx, SignalChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var row model.SignalRow
			if err := json.Unmarshal([]byte(msg.Payload), &row); err != nil {
				continue
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

// SignalHistory returns up to limit rows of meta appended before the given
// time (zero means now), oldest first. The bound applies to stream arrival time.
func (r *Reader) SignalHistory(ctx context.Context, meta model.Metadata, before time.Time, limit int64) ([]model.SignalRow, error) {
	msgs, err := r.revRange(ctx, SignalStreamKey(meta), before, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]model.SignalRow, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var row model.SignalRow
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CandleHistory returns up to limit closed candles of meta appended before
// the given time (zero means now), oldest first.
func (r *Reader) CandleHistory(ctx context.Context, meta model.Metadata, before time.Time, limit int64) ([]model.Candle, error) {
	msgs, err := r.revRange(ctx, CandleStreamKey(meta), before, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(msgs))
	for _, msg := range msgs {
		if ev, ok := decodeEvent(msg.Values); ok {
			candles = append(candles, ev.Candle)
		}
	}
	return candles, nil
}

// revRange reads the newest limit messages before the given time and
// reverses them into chronological order.
func (r *Reader) revRange(ctx context.Context, stream string, before time.Time, limit int64) ([]goredis.XMessage, error) {
	upper := "+"
	if !before.IsZero() {
		upper = fmt.Sprintf("%d-0", before.UnixMilli()-1)
	}
	msgs, err := r.client.XRevRangeN(ctx, stream, upper, "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
