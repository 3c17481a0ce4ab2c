package sigengine

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
)

var (
	btc = model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}
	eth = model.Metadata{Exchange: "binance", Pair: "ETH/USDT", Timeframe: "5m"}
	t0  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func randomWalk(n int, seed int64) []model.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]model.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price *= 1 + r.NormFloat64()*0.02
		out[i] = model.Candle{
			TS:     t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:   open,
			High:   math.Max(open, price) * 1.002,
			Low:    math.Min(open, price) * 0.998,
			Close:  price,
			Volume: 1 + r.Float64()*10,
		}
	}
	return out
}

// newTestProcessor returns a processor configured with btc and any extra
// series given.
func newTestProcessor(t *testing.T, extra ...model.Metadata) (*Processor, *metrics.Metrics) {
	t.Helper()
	engine, err := strategy.NewEngine(strategy.DefaultConfig())
	require.NoError(t, err)
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewProcessor(engine, prom, metrics.NewHealthStatus())
	p.Ensure(append([]model.Metadata{btc}, extra...))
	return p, prom
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func closed(meta model.Metadata, c model.Candle) model.CandleEvent {
	return model.CandleEvent{Meta: meta, Candle: c}
}
