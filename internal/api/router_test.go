package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

var (
	btc = model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}
	eth = model.Metadata{Exchange: "binance", Pair: "ETH/USDT", Timeframe: "5m"}
)

type fakeSource struct {
	latest map[string]*model.SignalRow
	rows   []model.SignalRow
	err    error

	gotMeta   model.Metadata
	gotBefore time.Time
	gotLimit  int64
}

func (f *fakeSource) LatestRow(_ context.Context, m model.Metadata) (*model.SignalRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.latest[m.Key()], nil
}

func (f *fakeSource) SignalHistory(_ context.Context, m model.Metadata, before time.Time, limit int64) ([]model.SignalRow, error) {
	f.gotMeta, f.gotBefore, f.gotLimit = m, before, limit
	return f.rows, f.err
}

func (f *fakeSource) CandleHistory(_ context.Context, m model.Metadata, before time.Time, limit int64) ([]model.Candle, error) {
	f.gotMeta, f.gotBefore, f.gotLimit = m, before, limit
	out := make([]model.Candle, len(f.rows))
	for i := range f.rows {
		out[i] = f.rows[i].Candle()
	}
	return out, f.err
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestLatest(t *testing.T) {
	src := &fakeSource{latest: map[string]*model.SignalRow{
		btc.Key(): {Meta: btc, Close: 42, Enter: true},
	}}
	mux := NewRouter(src, []model.Metadata{btc, eth})

	rec := get(t, mux, "/api/v1/signals/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]model.SignalRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 42.0, out[btc.Key()].Close)

	rec = get(t, mux, "/api/v1/signals/latest?"+url.Values{"series": {eth.Key()}}.Encode())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = get(t, mux, "/api/v1/signals/latest?series=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	src.err = errors.New("redis down")
	rec = get(t, mux, "/api/v1/signals/latest")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSignalHistoryParams(t *testing.T) {
	src := &fakeSource{rows: []model.SignalRow{
		{Meta: eth, Close: 1},
		{Meta: eth, Close: 2, Exit: true},
	}}
	mux := NewRouter(src, []model.Metadata{btc})

	q := url.Values{"series": {eth.Key()}, "limit": {"50"}, "before": {"2024-01-02T00:00:00Z"}}
	rec := get(t, mux, "/api/v1/signals/history?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, eth, src.gotMeta)
	assert.Equal(t, int64(50), src.gotLimit)
	assert.True(t, src.gotBefore.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	var rows []model.SignalRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)

	rec = get(t, mux, "/api/v1/signals/history?signals_only=true&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, btc, src.gotMeta, "defaults to the first configured series")
	assert.Equal(t, int64(defaultLimit), src.gotLimit)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Exit)

	rec = get(t, mux, "/api/v1/signals/history?before=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCandlesAndSeries(t *testing.T) {
	src := &fakeSource{rows: []model.SignalRow{{Meta: btc, Close: 7}}}
	mux := NewRouter(src, []model.Metadata{btc, eth})

	rec := get(t, mux, "/api/v1/candles")
	require.Equal(t, http.StatusOK, rec.Code)
	var candles []model.Candle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &candles))
	require.Len(t, candles, 1)
	assert.Equal(t, 7.0, candles[0].Close)

	rec = get(t, mux, "/api/v1/series")
	assert.JSONEq(t, `["binance:BTC/USDT:5m","binance:ETH/USDT:5m"]`, rec.Body.String())

	empty := NewRouter(src, nil)
	rec = get(t, empty, "/api/v1/candles")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithCORS(t *testing.T) {
	h := WithCORS(NewRouter(&fakeSource{}, nil))

	rec := get(t, h, "/api/v1/health")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
