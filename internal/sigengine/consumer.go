package sigengine

import (
	"context"
	"log/slog"
	"time"

	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/model"
)

const (
	archiveBatchSize  = 100
	archiveFlushDelay = time.Second
)

// processLoop evaluates candle events from the consumer and the forming
// candle subscription.
func (svc *Service) processLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-svc.candleCh:
			svc.handleEvent(ctx, ev)
		}
	}
}

// handleEvent evaluates one event and routes the row. It reports whether a
// closed candle was appended.
func (svc *Service) handleEvent(ctx context.Context, ev model.CandleEvent) bool {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(ev.Meta.Key(), ev.Candle.TS))

	row, err := svc.proc.Handle(ev)
	if err != nil {
		if !ev.Forming {
			slog.Warn("[sigengine] candle rejected", append(logger.LogWithTrace(ctx), "error", err)...)
		}
		return false
	}
	if row == nil {
		return false
	}

	if ev.Forming {
		if err := svc.redisWriter.PublishPreview(ctx, row); err != nil {
			slog.Debug("[sigengine] preview publish failed", append(logger.LogWithTrace(ctx), "error", err)...)
		}
		return false
	}

	if svc.sqlWriter != nil {
		offer(svc.archiveCh, ev, func() { svc.prom.RowsDropped.WithLabelValues("candles").Inc() })
	}
	svc.emit(ctx, row)
	return true
}

// emit writes a closed row to Redis and queues it for the fanout sinks
// (SQLite, gateway, alerts).
func (svc *Service) emit(ctx context.Context, row *model.SignalRow) {
	if err := svc.rowWriter.WriteRows(ctx, row.Meta, []model.SignalRow{*row}); err != nil {
		slog.Error("[sigengine] redis write error", append(logger.LogWithTrace(ctx), "error", err)...)
	}
	offer(svc.rowsIn, *row, func() { svc.prom.RowsDropped.WithLabelValues("fanout").Inc() })
}

// offer sends v without blocking, calling dropped when ch is full.
func offer[T any](ch chan<- T, v T, dropped func()) {
	select {
	case ch <- v:
	default:
		dropped()
	}
}

// archiveLoop persists closed candles so later restarts can warm up from
// SQLite. Candles are grouped per series and flushed on size or timer.
// Returns when ch is closed.
func (svc *Service) archiveLoop(ch <-chan model.CandleEvent) {
	pending := make(map[string]*model.Series)
	count := 0
	ticker := time.NewTicker(archiveFlushDelay)
	defer ticker.Stop()

	flush := func() {
		for key, s := range pending {
			if err := svc.sqlWriter.InsertCandles(context.Background(), s.Meta, s.Candles); err != nil {
				slog.Error("[sigengine] candle archive error", "series", key, "candles", len(s.Candles), "error", err)
			}
		}
		clear(pending)
		count = 0
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			key := ev.Meta.Key()
			s, exists := pending[key]
			if !exists {
				s = &model.Series{Meta: ev.Meta}
				pending[key] = s
			}
			s.Candles = append(s.Candles, ev.Candle)
			count++
			if count >= archiveBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
