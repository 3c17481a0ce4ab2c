package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

func TestStream_MatchesEvaluate(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(400, 21)

	f, err := e.Evaluate(series(candles))
	require.NoError(t, err)
	want := f.Rows()

	s := e.NewStream(testMeta)
	for i, c := range candles {
		row, err := s.Append(c)
		require.NoError(t, err)
		require.Equal(t, want[i], row, "row %d", i)
	}
	assert.Equal(t, len(candles), s.Count())
}

func TestStream_RejectsOutOfOrderWithoutMutating(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(60, 22)
	s := e.NewStream(testMeta)
	for _, c := range candles[:50] {
		_, err := s.Append(c)
		require.NoError(t, err)
	}

	_, err := s.Append(candles[10])
	assert.ErrorIs(t, err, ErrInvalidInput)
	bad := candles[50]
	bad.Volume = -3
	_, err = s.Append(bad)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 50, s.Count())

	f, err := e.Evaluate(series(candles))
	require.NoError(t, err)
	for i := 50; i < 60; i++ {
		row, err := s.Append(candles[i])
		require.NoError(t, err)
		assert.Equal(t, f.Row(i), row)
	}
}

func TestStream_PeekDoesNotMutate(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(120, 23)
	s := e.NewStream(testMeta)
	for _, c := range candles[:100] {
		_, err := s.Append(c)
		require.NoError(t, err)
	}

	peeked, err := s.Peek(candles[100])
	require.NoError(t, err)
	assert.Equal(t, 100, s.Count())

	got, err := s.Append(candles[100])
	require.NoError(t, err)
	require.NotNil(t, peeked.RSI)
	require.NotNil(t, peeked.BBUpper)
	require.NotNil(t, peeked.MACDHist)
	assert.InDelta(t, *got.RSI, *peeked.RSI, 1e-9)
	assert.InDelta(t, *got.MACDHist, *peeked.MACDHist, 1e-9)
	assert.InDelta(t, *got.BBUpper, *peeked.BBUpper, 1e-9)
	assert.InDelta(t, *got.EMASlow, *peeked.EMASlow, 1e-9)
}

func TestStream_PeekInsideWarmupIsUndefined(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(31, 24)
	s := e.NewStream(testMeta)
	for _, c := range candles[:29] {
		_, err := s.Append(c)
		require.NoError(t, err)
	}
	row, err := s.Peek(candles[29])
	require.NoError(t, err)
	assert.Nil(t, row.RSI)

	_, err = s.Append(candles[29])
	require.NoError(t, err)
	row, err = s.Peek(candles[30])
	require.NoError(t, err)
	assert.NotNil(t, row.RSI)
}

func TestStream_SnapshotRestoreContinues(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(300, 25)
	f, err := e.Evaluate(series(candles))
	require.NoError(t, err)

	s := e.NewStream(testMeta)
	for _, c := range candles[:137] {
		_, err := s.Append(c)
		require.NoError(t, err)
	}

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var snap StreamSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	restored, err := e.RestoreStream(&snap)
	require.NoError(t, err)
	assert.Equal(t, testMeta, restored.Meta())
	assert.Equal(t, 137, restored.Count())

	for i := 137; i < len(candles); i++ {
		row, err := restored.Append(candles[i])
		require.NoError(t, err)
		require.Equal(t, f.Row(i), row, "row %d", i)
	}
}

func TestRestoreStream_Rejects(t *testing.T) {
	e := newDefaultEngine(t)
	_, err := e.RestoreStream(nil)
	assert.Error(t, err)

	s := e.NewStream(testMeta)
	_, err = s.Append(randomWalk(1, 26)[0])
	require.NoError(t, err)
	snap := s.Snapshot()

	other := DefaultConfig()
	other.Params.RSIPeriod = 7
	e2, err := NewEngine(other)
	require.NoError(t, err)
	_, err = e2.RestoreStream(snap)
	assert.Error(t, err)

	snap.Last = nil
	_, err = e.RestoreStream(snap)
	assert.Error(t, err)
}

func TestRunner_EmitsRowsAndSkipsInvalid(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(50, 27)
	r := NewRunner(e.NewStream(testMeta), 100)

	in := make(chan model.Candle, len(candles)+1)
	for i, c := range candles {
		in <- c
		if i == 20 {
			in <- candles[5] // out of order
		}
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Run(ctx, in)

	var rows []model.SignalRow
	for row := range r.Rows() {
		rows = append(rows, row)
	}
	assert.Len(t, rows, len(candles))
	assert.Equal(t, int64(1), r.Rejected())
	assert.Zero(t, r.Dropped())
}

func TestRunner_DropsWhenOutputFull(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(10, 28)
	r := NewRunner(e.NewStream(testMeta), 4)

	in := make(chan model.Candle, len(candles))
	for _, c := range candles {
		in <- c
	}
	close(in)
	r.Run(context.Background(), in)

	n := 0
	for range r.Rows() {
		n++
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(6), r.Dropped())
}

func TestRunner_BlockingKeepsEveryRow(t *testing.T) {
	e := newDefaultEngine(t)
	candles := randomWalk(300, 29)
	r := NewRunner(e.NewStream(testMeta), 4)
	r.Blocking = true

	in := make(chan model.Candle)
	go func() {
		defer close(in)
		for _, c := range candles {
			in <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go r.Run(ctx, in)

	frame, err := e.Evaluate(model.Series{Meta: testMeta, Candles: candles})
	require.NoError(t, err)

	i := 0
	for row := range r.Rows() {
		require.Less(t, i, len(candles))
		assert.Equal(t, frame.Row(i), row, "index %d", i)
		i++
	}
	assert.Equal(t, len(candles), i)
	assert.Zero(t, r.Dropped())
}
