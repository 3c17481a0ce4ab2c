package indicator

import "signal-enginev1/internal/model"

// EMAOf returns the EMA of xs. The first period-1 values are undefined.
func EMAOf(xs []float64, period int) (Series, error) {
	if err := checkPeriod("ema", period); err != nil {
		return nil, err
	}
	return run(NewEMA(period), xs), nil
}

// RSIOf returns Wilder's RSI of xs. The first period values are undefined.
func RSIOf(xs []float64, period int) (Series, error) {
	if err := checkPeriod("rsi", period); err != nil {
		return nil, err
	}
	return run(NewRSI(period), xs), nil
}

// MACDOf returns the MACD line, signal line and histogram of xs.
func MACDOf(xs []float64, fast, slow, signal int) (line, sig, hist Series, err error) {
	for _, c := range []struct {
		name   string
		period int
	}{{"macd_fast", fast}, {"macd_slow", slow}, {"macd_signal", signal}} {
		if err := checkPeriod(c.name, c.period); err != nil {
			return nil, nil, nil, err
		}
	}
	m := NewMACD(fast, slow, signal)
	line, sig, hist = make(Series, len(xs)), make(Series, len(xs)), make(Series, len(xs))
	for i, x := range xs {
		m.Update(x)
		if m.MACDReady() {
			line[i] = Defined(m.Value())
		}
		if m.Ready() {
			sig[i] = Defined(m.Signal())
			hist[i] = Defined(m.Hist())
		}
	}
	return line, sig, hist, nil
}

// BollingerOf returns lower, middle and upper bands of xs.
func BollingerOf(xs []float64, window int, stds float64) (lower, mid, upper Series, err error) {
	if err := checkPeriod("bb_window", window); err != nil {
		return nil, nil, nil, err
	}
	b := NewBollinger(window, stds)
	lower, mid, upper = make(Series, len(xs)), make(Series, len(xs)), make(Series, len(xs))
	for i, x := range xs {
		b.Update(x)
		if b.Ready() {
			bands := b.Bands()
			lower[i], mid[i], upper[i] = Defined(bands.Lower), Defined(bands.Mid), Defined(bands.Upper)
		}
	}
	return lower, mid, upper, nil
}

// TypicalPrices returns (high+low+close)/3 for each candle.
func TypicalPrices(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].TypicalPrice()
	}
	return out
}
