// Package replay reads a stored candle series and emits it at a configurable
// speed, feeding the streaming path the same way live candles would.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Replayer emits historical candles of one series in timestamp order.
type Replayer struct {
	reader model.SeriesReader

	// wait blocks for d or until ctx is done; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by a series reader (usually SQLite).
func New(reader model.SeriesReader) *Replayer {
	return &Replayer{reader: reader, wait: sleepCtx}
}

// Run replays the candles of meta after fromTS (unix seconds, 0 = all) into
// out. speed controls the playback rate: 1 = real time, 10 = 10x, 0 = as fast
// as possible. It returns the number of candles emitted. out is not closed.
func (r *Replayer) Run(ctx context.Context, meta model.Metadata, fromTS int64, speed float64, out chan<- model.Candle) (int, error) {
	s, err := r.reader.ReadSeries(meta, fromTS)
	if err != nil {
		return 0, fmt.Errorf("replay read %s: %w", meta.Key(), err)
	}
	if s.Len() == 0 {
		slog.Info("[replay] no candles found", "series", meta.Key())
		return 0, nil
	}

	slog.Info("[replay] loaded candles", "series", meta.Key(), "count", s.Len(), "speed", speed)

	var prevTS time.Time
	emitted := 0
	for _, c := range s.Candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := scaledGap(c.TS.Sub(prevTS), speed); gap > 0 {
				if err := r.wait(ctx, gap); err != nil {
					return emitted, err
				}
			}
		}
		prevTS = c.TS

		select {
		case <-ctx.Done():
			slog.Info("[replay] cancelled", "series", meta.Key(), "emitted", emitted)
			return emitted, ctx.Err()
		case out <- c:
			emitted++
		}
	}

	slog.Info("[replay] completed", "series", meta.Key(), "emitted", emitted)
	return emitted, nil
}

func scaledGap(gap time.Duration, speed float64) time.Duration {
	if gap <= 0 || speed <= 0 {
		return 0
	}
	d := time.Duration(float64(gap) / speed)
	if d > maxGap {
		d = maxGap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
