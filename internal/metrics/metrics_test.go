package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func TestRecordRow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	rsi := 42.5
	meta := model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}
	m.RecordRow(&model.SignalRow{Meta: meta, RSI: &rsi, Enter: true, Exit: true})
	m.RecordRow(&model.SignalRow{Meta: meta, Exit: true})

	series := map[string]string{"series": meta.Key()}
	c := findMetric(t, reg, "signal_engine_candles_total", series)
	require.NotNil(t, c)
	assert.Equal(t, 2.0, c.GetCounter().GetValue())

	exit := findMetric(t, reg, "signal_engine_signals_total", map[string]string{"series": meta.Key(), "kind": "exit"})
	require.NotNil(t, exit)
	assert.Equal(t, 2.0, exit.GetCounter().GetValue())

	enter := findMetric(t, reg, "signal_engine_signals_total", map[string]string{"series": meta.Key(), "kind": "enter"})
	require.NotNil(t, enter)
	assert.Equal(t, 1.0, enter.GetCounter().GetValue())

	g := findMetric(t, reg, "signal_engine_last_rsi", series)
	require.NotNil(t, g)
	assert.Equal(t, 42.5, g.GetGauge().GetValue())
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetRedisConnected(true)
	h.SetSQLiteOK(true)
	h.SetConsumerOK(true)
	h.SetSeries([]string{"binance:BTC/USDT:5m"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	h.SetRedisConnected(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)

	h.SetSQLiteOK(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.WarmupCandles.Set(30)

	srv := NewServer(":0", NewHealthStatus(), reg)
	srv.Handle("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "signal_engine_warmup_candles 30"))

	resp2, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp2.Body.Close()
	pong, _ := io.ReadAll(resp2.Body)
	assert.Equal(t, "pong", string(pong))
}
