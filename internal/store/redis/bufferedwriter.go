package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signal-enginev1/internal/model"
)

// pendingWrite is a batch of rows held back while the circuit is open.
type pendingWrite struct {
	meta model.Metadata
	rows []model.SignalRow
}

// BufferedWriter wraps a RowWriter with a circuit breaker.
// While the circuit is open, rows are buffered locally and flushed in order
// when the circuit closes again.
type BufferedWriter struct {
	writer model.RowWriter
	cb     *CircuitBreaker
	ctx    context.Context

	mu       sync.Mutex
	buffer   []pendingWrite
	buffered int // rows held in buffer
	maxRows  int // max buffered rows before dropping oldest batches (default: 10000)

	// Callbacks
	OnBuffer func(rows int) // called when rows are buffered (for metrics)
	OnFlush  func(rows int) // called after flushing buffered rows
	OnDrop   func(rows int) // called when the buffer overflows
}

// NewBufferedWriter creates a BufferedWriter wrapping w.
func NewBufferedWriter(ctx context.Context, w model.RowWriter, cb *CircuitBreaker, maxBufferedRows int) *BufferedWriter {
	if maxBufferedRows <= 0 {
		maxBufferedRows = 10000
	}
	bw := &BufferedWriter{
		writer:  w,
		cb:      cb,
		ctx:     ctx,
		buffer:  make([]pendingWrite, 0, 64),
		maxRows: maxBufferedRows,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteRows implements model.RowWriter. Failed writes count against the
// breaker and are returned; writes rejected by an open circuit are buffered.
func (bw *BufferedWriter) WriteRows(ctx context.Context, meta model.Metadata, rows []model.SignalRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteRows(ctx, meta, rows)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(meta, rows)
		return nil // buffered, not lost
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(meta model.Metadata, rows []model.SignalRow) {
	cp := make([]model.SignalRow, len(rows))
	copy(cp, rows)

	bw.mu.Lock()
	bw.buffer = append(bw.buffer, pendingWrite{meta: meta, rows: cp})
	bw.buffered += len(cp)
	dropped := 0
	for bw.buffered > bw.maxRows && len(bw.buffer) > 1 {
		// Buffer full: drop oldest
		dropped += len(bw.buffer[0].rows)
		bw.buffered -= len(bw.buffer[0].rows)
		bw.buffer = bw.buffer[1:]
	}
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer(len(cp))
	}
	if dropped > 0 && bw.OnDrop != nil {
		bw.OnDrop(dropped)
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 64)
	bw.buffered = 0
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		if err := bw.writer.WriteRows(bw.ctx, pw.meta, pw.rows); err != nil {
			slog.Error("[buffered-writer] flush error", "series", pw.meta.Key(), "rows", len(pw.rows), "error", err)
			continue
		}
		flushed += len(pw.rows)
	}

	slog.Info("[buffered-writer] flushed buffered rows", "rows", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered rows waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.buffered
}
