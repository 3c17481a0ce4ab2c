package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm-up, offline evaluation
// and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("[sqlite-reader] opened database", "path", dbPath)
	return &Reader{db: db}, nil
}

// ReadSeries reads the candles of one series after afterTS (unix seconds),
// ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadSeries(meta model.Metadata, afterTS int64) (model.Series, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE exchange = ? AND pair = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, meta.Exchange, meta.Pair, meta.Timeframe, afterTS)
	if err != nil {
		return model.Series{}, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	s := model.Series{Meta: meta}
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return model.Series{}, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		s.Candles = append(s.Candles, c)
	}
	return s, rows.Err()
}

// ListSeries returns every series with stored candles.
func (r *Reader) ListSeries() ([]model.Metadata, error) {
	rows, err := r.db.Query(`SELECT DISTINCT exchange, pair, tf FROM candles ORDER BY exchange, pair, tf`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list series: %w", err)
	}
	defer rows.Close()

	var metas []model.Metadata
	for rows.Next() {
		var m model.Metadata
		if err := rows.Scan(&m.Exchange, &m.Pair, &m.Timeframe); err != nil {
			return nil, fmt.Errorf("sqlite scan series: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ReadRows reads stored signal rows of one series after afterTS.
func (r *Reader) ReadRows(meta model.Metadata, afterTS int64) ([]model.SignalRow, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume,
			rsi, macd, macd_signal, macd_hist, bb_lower, bb_mid, bb_upper, ema_fast, ema_slow, enter, exit
		FROM signals
		WHERE exchange = ? AND pair = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, meta.Exchange, meta.Pair, meta.Timeframe, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalRow
	for rows.Next() {
		row := model.SignalRow{Meta: meta}
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &row.Open, &row.High, &row.Low, &row.Close, &row.Volume,
			&row.RSI, &row.MACD, &row.MACDSignal, &row.MACDHist,
			&row.BBLower, &row.BBMid, &row.BBUpper, &row.EMAFast, &row.EMASlow,
			&row.Enter, &row.Exit); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		row.TS = time.Unix(tsUnix, 0).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent stream snapshot.
// Returns nil, nil if none exists.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	return latestSnapshot(ctx, r.db)
}

func latestSnapshot(ctx context.Context, db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRowContext(ctx, `
		SELECT data FROM stream_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
