package strategy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"signal-enginev1/internal/model"
)

// Runner drives a Stream from a candle channel and publishes rows.
type Runner struct {
	stream *Stream
	rowCh  chan model.SignalRow

	// Blocking makes Run wait for the reader when the row channel is full
	// instead of dropping the row. Offline replays set it so no row is lost.
	Blocking bool

	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewRunner wraps s with an output buffer of rowBufferSize rows.
func NewRunner(s *Stream, rowBufferSize int) *Runner {
	return &Runner{stream: s, rowCh: make(chan model.SignalRow, rowBufferSize)}
}

// Rows returns the channel of evaluated rows. It is closed when Run returns.
func (r *Runner) Rows() <-chan model.SignalRow { return r.rowCh }

// Rejected returns the number of candles that failed validation.
func (r *Runner) Rejected() int64 { return r.rejected.Load() }

// Dropped returns the number of rows lost to a full output channel.
func (r *Runner) Dropped() int64 { return r.dropped.Load() }

// Run consumes candles until ctx is cancelled or candleCh is closed.
// Invalid candles are logged and skipped. Unless Blocking is set, rows that
// do not fit the output channel are dropped and counted.
func (r *Runner) Run(ctx context.Context, candleCh <-chan model.Candle) {
	defer close(r.rowCh)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			row, err := r.stream.Append(c)
			if err != nil {
				r.rejected.Add(1)
				slog.Warn("[strategy] candle rejected", "series", r.stream.Meta().Key(), "error", err)
				continue
			}
			if r.Blocking {
				select {
				case r.rowCh <- row:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case r.rowCh <- row:
			default:
				// row channel full, drop
				r.dropped.Add(1)
			}
		}
	}
}
