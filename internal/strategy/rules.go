package strategy

import "signal-enginev1/internal/indicator"

// Rule is a pure predicate over a Frame at index i. It must not look further
// back than i-1 so the streaming path can evaluate it on a two-row window.
type Rule func(f *Frame, i int) bool

// Rules is the pluggable pair of predicates an Engine applies.
type Rules struct {
	Entry Rule
	Exit  Rule
}

// DefaultRules returns the reference entry and exit rules for cfg.
func DefaultRules(cfg Config) Rules {
	return Rules{Entry: DefaultEntry(cfg), Exit: DefaultExit(cfg)}
}

// DefaultEntry: RSI crosses above the entry level, MACD is above its signal,
// close is above the fast EMA and the candle traded.
func DefaultEntry(cfg Config) Rule {
	level := cfg.RSIEntryLevel
	return func(f *Frame, i int) bool {
		ind := &f.Indicators
		c := &f.Candles[i]
		return CrossedAboveLevel(ind.RSI, level, i) &&
			greater(ind.MACD.At(i), ind.MACDSignal.At(i)) &&
			greater(indicator.Defined(c.Close), ind.EMAFast.At(i)) &&
			c.Volume > 0
	}
}

// DefaultExit: RSI crosses above the exit level, or close breaks the upper
// band, or MACD crosses below its signal.
func DefaultExit(cfg Config) Rule {
	level := cfg.RSIExitLevel
	return func(f *Frame, i int) bool {
		ind := &f.Indicators
		return CrossedAboveLevel(ind.RSI, level, i) ||
			greater(indicator.Defined(f.Candles[i].Close), ind.BBUpper.At(i)) ||
			CrossedBelow(ind.MACD, ind.MACDSignal, i)
	}
}

// greater is a > b with undefined operands giving false.
func greater(a, b indicator.Value) bool {
	return a.Valid && b.Valid && a.V > b.V
}
