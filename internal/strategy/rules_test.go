package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"signal-enginev1/internal/indicator"
)

// syntheticFrame builds a frame with hand-set indicator columns. Every
// indicator is defined and neutral: RSI 50, MACD below signal, close below
// ema_fast and bb_upper.
func syntheticFrame(n int) *Frame {
	f := &Frame{Meta: testMeta, Candles: flatCandles(n, 100), Indicators: indicator.NewSet(n)}
	for i := 0; i < n; i++ {
		f.Indicators.SetPoint(i, indicator.Point{
			RSI:        indicator.Defined(50),
			MACD:       indicator.Defined(-1),
			MACDSignal: indicator.Defined(0),
			MACDHist:   indicator.Defined(-1),
			BBLower:    indicator.Defined(90),
			BBMid:      indicator.Defined(100),
			BBUpper:    indicator.Defined(110),
			EMAFast:    indicator.Defined(105),
			EMASlow:    indicator.Defined(105),
		})
	}
	return f
}

func TestDefaultEntry_CrossAtIndex40(t *testing.T) {
	cfg := DefaultConfig()
	f := syntheticFrame(60)
	f.Indicators.RSI[39] = indicator.Defined(25)
	f.Indicators.RSI[40] = indicator.Defined(35)
	f.Indicators.MACD[40] = indicator.Defined(1)
	f.Indicators.EMAFast[40] = indicator.Defined(99)
	f.applyRules(DefaultRules(cfg))

	assert.True(t, f.Enter[40])
	assert.False(t, f.Enter[39])
	enter, _ := f.Counts()
	assert.Equal(t, 1, enter)
}

func TestDefaultEntry_EachConditionRequired(t *testing.T) {
	cfg := DefaultConfig()
	entry := DefaultEntry(cfg)
	base := func() *Frame {
		f := syntheticFrame(5)
		f.Indicators.RSI[1] = indicator.Defined(29)
		f.Indicators.RSI[2] = indicator.Defined(31)
		f.Indicators.MACD[2] = indicator.Defined(1)
		f.Indicators.EMAFast[2] = indicator.Defined(99)
		return f
	}
	assert.True(t, entry(base(), 2))

	f := base()
	f.Indicators.RSI[1] = indicator.Defined(31) // no cross
	assert.False(t, entry(f, 2))

	f = base()
	f.Indicators.MACD[2] = f.Indicators.MACDSignal[2] // not strictly greater
	assert.False(t, entry(f, 2))

	f = base()
	f.Indicators.EMAFast[2] = indicator.Defined(100) // close == ema_fast
	assert.False(t, entry(f, 2))

	f = base()
	f.Candles[2].Volume = 0
	assert.False(t, entry(f, 2))

	f = base()
	f.Indicators.MACDSignal[2] = indicator.Undefined
	assert.False(t, entry(f, 2))
}

func TestDefaultEntry_RSIExactlyAtLevelThenAbove(t *testing.T) {
	f := syntheticFrame(3)
	f.Indicators.RSI[0] = indicator.Defined(30)
	f.Indicators.RSI[1] = indicator.Defined(30.0001)
	f.Indicators.MACD[1] = indicator.Defined(1)
	f.Indicators.EMAFast[1] = indicator.Defined(99)
	assert.True(t, DefaultEntry(DefaultConfig())(f, 1))
}

func TestDefaultExit_CloseAboveUpperBandAt55(t *testing.T) {
	f := syntheticFrame(70)
	f.Candles[55].Close = 111
	// RSI and MACD state at 55 is irrelevant.
	f.Indicators.RSI[55] = indicator.Undefined
	f.Indicators.MACD[55] = indicator.Undefined
	f.applyRules(DefaultRules(DefaultConfig()))

	for i := range f.Exit {
		assert.Equal(t, i == 55, f.Exit[i], "exit[%d]", i)
	}
}

func TestDefaultExit_RSICrossAndMACDCrossBelow(t *testing.T) {
	exit := DefaultExit(DefaultConfig())

	f := syntheticFrame(3)
	f.Indicators.RSI[0] = indicator.Defined(69)
	f.Indicators.RSI[1] = indicator.Defined(71)
	assert.True(t, exit(f, 1))

	f = syntheticFrame(3)
	f.Indicators.MACD[0] = indicator.Defined(1)
	f.Indicators.MACD[1] = indicator.Defined(-1)
	assert.True(t, exit(f, 1))
	assert.False(t, exit(f, 2))
}

func TestRules_EnterAndExitSameIndex(t *testing.T) {
	f := syntheticFrame(3)
	f.Indicators.RSI[0] = indicator.Defined(20)
	f.Indicators.RSI[1] = indicator.Defined(40)
	f.Indicators.MACD[1] = indicator.Defined(1)
	f.Indicators.EMAFast[1] = indicator.Defined(99)
	f.Indicators.BBUpper[1] = indicator.Defined(99.5) // close 100 breaks the band
	f.applyRules(DefaultRules(DefaultConfig()))

	assert.True(t, f.Enter[1])
	assert.True(t, f.Exit[1])
}

func TestCrossover_IndexZeroAndUndefined(t *testing.T) {
	a := indicator.Series{indicator.Defined(0), indicator.Defined(2), indicator.Undefined, indicator.Defined(5)}
	b := Constant(4, 1)

	assert.False(t, CrossedAbove(a, b, 0))
	assert.True(t, CrossedAbove(a, b, 1))
	assert.False(t, CrossedAbove(a, b, 2))
	assert.False(t, CrossedAbove(a, b, 3))
	assert.False(t, CrossedAbove(a, b, 4)) // out of range
}

func TestCrossover_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	gen := func(n int) indicator.Series {
		s := make(indicator.Series, n)
		for i := range s {
			if r.Intn(10) == 0 {
				continue
			}
			// small integer grid makes ties common
			s[i] = indicator.Defined(float64(r.Intn(5)))
		}
		return s
	}
	a, b := gen(500), gen(500)
	level := 2.0
	lv := Constant(500, level)

	for i := 0; i < 500; i++ {
		above, below := CrossedAbove(a, b, i), CrossedBelow(a, b, i)
		assert.False(t, above && below, "both at %d", i)
		assert.Equal(t, above, CrossedBelow(b, a, i), "symmetry at %d", i)
		assert.Equal(t, below, CrossedAbove(b, a, i), "mirror at %d", i)

		assert.Equal(t, CrossedAbove(a, lv, i), CrossedAboveLevel(a, level, i), "level above at %d", i)
		assert.Equal(t, CrossedBelow(a, lv, i), CrossedBelowLevel(a, level, i), "level below at %d", i)
	}
}
