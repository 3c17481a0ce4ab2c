package strategy

import (
	"math"
	"math/rand"
	"time"

	"signal-enginev1/internal/model"
)

var testMeta = model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// randomWalk builds n valid candles from a seeded geometric walk.
func randomWalk(n int, seed int64) []model.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]model.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price *= 1 + r.NormFloat64()*0.02
		hi := math.Max(open, price) * (1 + r.Float64()*0.005)
		lo := math.Min(open, price) * (1 - r.Float64()*0.005)
		out[i] = model.Candle{
			TS:     t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  price,
			Volume: 1 + r.Float64()*10,
		}
	}
	return out
}

func flatCandles(n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			TS: t0.Add(time.Duration(i) * 5 * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1,
		}
	}
	return out
}

func series(candles []model.Candle) model.Series {
	return model.Series{Meta: testMeta, Candles: candles}
}
