package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

var meta = model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func candlesAt(n int) []model.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Candle{TS: t0.Add(time.Duration(i) * 5 * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 3}
	}
	return out
}

func TestCandles_RoundTrip(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	in := candlesAt(20)
	require.NoError(t, w.InsertCandles(ctx, meta, in))

	// upsert is idempotent
	require.NoError(t, w.InsertCandles(ctx, meta, in[:5]))

	s, err := r.ReadSeries(meta, 0)
	require.NoError(t, err)
	assert.Equal(t, meta, s.Meta)
	assert.Equal(t, in, s.Candles)

	tail, err := r.ReadSeries(meta, in[14].TS.Unix())
	require.NoError(t, err)
	assert.Equal(t, in[15:], tail.Candles)

	last, err := w.GetLastTimestamp(meta)
	require.NoError(t, err)
	assert.Equal(t, in[19].TS.Unix(), last)

	other := meta
	other.Pair = "ETH/USDT"
	empty, err := r.ReadSeries(other, 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Candles)
}

func TestListSeries(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	eth := model.Metadata{Exchange: "binance", Pair: "ETH/USDT", Timeframe: "5m"}
	require.NoError(t, w.InsertCandles(ctx, eth, candlesAt(2)))
	require.NoError(t, w.InsertCandles(ctx, meta, candlesAt(2)))

	metas, err := r.ListSeries()
	require.NoError(t, err)
	assert.Equal(t, []model.Metadata{meta, eth}, metas)
}

func TestRows_NullableIndicators(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	cs := candlesAt(2)
	rsi, upper := 55.5, 130.25
	rows := []model.SignalRow{
		{Meta: meta, TS: cs[0].TS, Open: cs[0].Open, High: cs[0].High, Low: cs[0].Low, Close: cs[0].Close, Volume: cs[0].Volume},
		{Meta: meta, TS: cs[1].TS, Open: cs[1].Open, High: cs[1].High, Low: cs[1].Low, Close: cs[1].Close, Volume: cs[1].Volume,
			RSI: &rsi, BBUpper: &upper, Enter: true, Exit: true},
	}

	var commits int
	w.onCommit = func(time.Duration) { commits++ }
	require.NoError(t, w.WriteRows(ctx, meta, rows))
	assert.Equal(t, 1, commits)

	got, err := r.ReadRows(meta, 0)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
	assert.Nil(t, got[0].RSI)
}

func TestRun_FlushesOnClose(t *testing.T) {
	w, r := openPair(t)
	cs := candlesAt(250)
	ch := make(chan model.SignalRow, len(cs))
	for _, c := range cs {
		ch <- model.SignalRow{Meta: meta, TS: c.TS, Close: c.Close}
	}
	close(ch)
	w.Run(context.Background(), ch)

	got, err := r.ReadRows(meta, 0)
	require.NoError(t, err)
	assert.Len(t, got, len(cs))
}

func TestSnapshots_LatestAndPrune(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	none, err := r.ReadLatestSnapshotJSON(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	for i := 0; i < keepSnapshots+5; i++ {
		require.NoError(t, w.SaveSnapshotJSON(ctx, []byte(`{"n":`+string(rune('a'+i))+`}`)))
	}
	latest, err := r.ReadLatestSnapshotJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"n":`+string(rune('a'+keepSnapshots+4))+`}`, string(latest))

	var n int
	require.NoError(t, w.DB().QueryRow(`SELECT COUNT(*) FROM stream_snapshots`).Scan(&n))
	assert.Equal(t, keepSnapshots, n)

	fromWriter, err := w.ReadLatestSnapshotJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, fromWriter)
}
