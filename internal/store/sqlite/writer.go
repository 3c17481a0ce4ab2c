package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"

	// OnCommit, when set, receives the duration of each committed batch.
	OnCommit func(time.Duration)
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db       *sql.DB
	onCommit func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("[sqlite] opened database", "path", cfg.DBPath)
	return &Writer{db: db, onCommit: cfg.OnCommit}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			exchange   TEXT    NOT NULL,
			pair       TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (exchange, pair, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			exchange    TEXT    NOT NULL,
			pair        TEXT    NOT NULL,
			tf          TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL    NOT NULL,
			rsi         REAL,
			macd        REAL,
			macd_signal REAL,
			macd_hist   REAL,
			bb_lower    REAL,
			bb_mid      REAL,
			bb_upper    REAL,
			ema_fast    REAL,
			ema_slow    REAL,
			enter       INTEGER NOT NULL,
			exit        INTEGER NOT NULL,
			PRIMARY KEY (exchange, pair, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS stream_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// InsertCandles upserts a candle series in one transaction.
func (w *Writer) InsertCandles(ctx context.Context, meta model.Metadata, candles []model.Candle) error {
	return w.inTx(ctx, `
		INSERT OR REPLACE INTO candles (exchange, pair, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(candles), func(stmt *sql.Stmt, i int) error {
		c := &candles[i]
		_, err := stmt.ExecContext(ctx, meta.Exchange, meta.Pair, meta.Timeframe, c.TS.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
		return err
	})
}

// WriteRows upserts evaluated rows in one transaction. Undefined indicators
// are stored as NULL.
func (w *Writer) WriteRows(ctx context.Context, meta model.Metadata, rows []model.SignalRow) error {
	start := time.Now()
	err := w.inTx(ctx, `
		INSERT OR REPLACE INTO signals (exchange, pair, tf, ts, open, high, low, close, volume,
			rsi, macd, macd_signal, macd_hist, bb_lower, bb_mid, bb_upper, ema_fast, ema_slow, enter, exit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(rows), func(stmt *sql.Stmt, i int) error {
		r := &rows[i]
		m := meta
		if r.Meta != (model.Metadata{}) {
			m = r.Meta
		}
		_, err := stmt.ExecContext(ctx, m.Exchange, m.Pair, m.Timeframe, r.TS.Unix(),
			r.Open, r.High, r.Low, r.Close, r.Volume,
			r.RSI, r.MACD, r.MACDSignal, r.MACDHist, r.BBLower, r.BBMid, r.BBUpper, r.EMAFast, r.EMASlow,
			r.Enter, r.Exit)
		return err
	})
	if err == nil && w.onCommit != nil {
		w.onCommit(time.Since(start))
	}
	return err
}

// inTx prepares query once and executes it n times inside a transaction.
func (w *Writer) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Run reads rows from rowCh and inserts them in batched transactions.
// Flushes every batchSize rows OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or rowCh is closed.
func (w *Writer) Run(ctx context.Context, rowCh <-chan model.SignalRow) {
	batch := make([]model.SignalRow, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Rows carry their own metadata; the shared ctx may already be done.
		if err := w.WriteRows(context.Background(), model.Metadata{}, batch); err != nil {
			slog.Error("[sqlite] batch insert error", "rows", len(batch), "error", err)
		} else {
			slog.Debug("[sqlite] committed rows", "rows", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case row, ok := <-rowCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// GetLastTimestamp returns the last stored candle timestamp for a series.
// Returns 0 if no candles exist.
func (w *Writer) GetLastTimestamp(meta model.Metadata) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE exchange = ? AND pair = ? AND tf = ?`,
		meta.Exchange, meta.Pair, meta.Timeframe,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshotJSON stores a stream snapshot and prunes all but the newest ones.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	_, err := w.db.ExecContext(ctx, `INSERT INTO stream_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `DELETE FROM stream_snapshots WHERE id NOT IN (SELECT id FROM stream_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		slog.Warn("[sqlite] prune snapshots warning", "error", err)
	}

	return nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil if none exists.
func (w *Writer) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	return latestSnapshot(ctx, w.db)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
