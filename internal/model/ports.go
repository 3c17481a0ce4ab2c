package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the signal service from the concrete stores (Redis, SQLite).

// SeriesReader loads historical candles for warm-up and offline evaluation.
type SeriesReader interface {
	// ReadSeries returns candles after afterTS (unix seconds), ascending.
	ReadSeries(meta Metadata, afterTS int64) (Series, error)

	// Close releases underlying resources.
	Close() error
}

// RowWriter persists evaluated signal rows.
type RowWriter interface {
	WriteRows(ctx context.Context, meta Metadata, rows []SignalRow) error
}

// SnapshotStore reads and writes stream snapshots as raw JSON.
// Using []byte avoids a model→strategy import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded snapshot.
	SaveSnapshotJSON(ctx context.Context, data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error)
}
