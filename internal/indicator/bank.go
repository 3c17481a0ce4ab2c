package indicator

import (
	"fmt"

	"signal-enginev1/internal/model"
)

// Indicator output names.
const (
	NameRSI        = "rsi"
	NameMACD       = "macd"
	NameMACDSignal = "macd_signal"
	NameMACDHist   = "macd_hist"
	NameBBLower    = "bb_lower"
	NameBBMid      = "bb_mid"
	NameBBUpper    = "bb_upper"
	NameEMAFast    = "ema_fast"
	NameEMASlow    = "ema_slow"
)

// Names lists every output of the Bank in a stable order.
var Names = []string{
	NameRSI, NameMACD, NameMACDSignal, NameMACDHist,
	NameBBLower, NameBBMid, NameBBUpper, NameEMAFast, NameEMASlow,
}

// Params holds the periods and windows of the indicator bank.
type Params struct {
	RSIPeriod  int     `json:"rsi_period" yaml:"rsi_period"`
	EMAFast    int     `json:"ema_fast" yaml:"ema_fast"`
	EMASlow    int     `json:"ema_slow" yaml:"ema_slow"`
	MACDFast   int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow   int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal int     `json:"macd_signal" yaml:"macd_signal"`
	BBWindow   int     `json:"bb_window" yaml:"bb_window"`
	BBStds     float64 `json:"bb_stds" yaml:"bb_stds"`
}

// DefaultParams returns the reference configuration:
// RSI 14, EMA 10/50, MACD 12/26/9, Bollinger 20 x 2.
func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		EMAFast:    10,
		EMASlow:    50,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBWindow:   20,
		BBStds:     2,
	}
}

// Validate rejects non-positive periods and windows.
func (p Params) Validate() error {
	checks := []struct {
		name   string
		period int
	}{
		{"rsi", p.RSIPeriod},
		{"ema_fast", p.EMAFast},
		{"ema_slow", p.EMASlow},
		{"macd_fast", p.MACDFast},
		{"macd_slow", p.MACDSlow},
		{"macd_signal", p.MACDSignal},
		{"bb_window", p.BBWindow},
	}
	for _, c := range checks {
		if err := checkPeriod(c.name, c.period); err != nil {
			return err
		}
	}
	if p.BBStds < 0 {
		return fmt.Errorf("%w: bb_stds %v", ErrInvalidPeriod, p.BBStds)
	}
	return nil
}

// Point holds every indicator value at one index.
type Point struct {
	RSI        Value
	MACD       Value
	MACDSignal Value
	MACDHist   Value
	BBLower    Value
	BBMid      Value
	BBUpper    Value
	EMAFast    Value
	EMASlow    Value
}

// Get returns the named value.
func (p *Point) Get(name string) (Value, bool) {
	switch name {
	case NameRSI:
		return p.RSI, true
	case NameMACD:
		return p.MACD, true
	case NameMACDSignal:
		return p.MACDSignal, true
	case NameMACDHist:
		return p.MACDHist, true
	case NameBBLower:
		return p.BBLower, true
	case NameBBMid:
		return p.BBMid, true
	case NameBBUpper:
		return p.BBUpper, true
	case NameEMAFast:
		return p.EMAFast, true
	case NameEMASlow:
		return p.EMASlow, true
	}
	return Undefined, false
}

// Set holds every indicator series, aligned with the candles.
type Set struct {
	RSI        Series
	MACD       Series
	MACDSignal Series
	MACDHist   Series
	BBLower    Series
	BBMid      Series
	BBUpper    Series
	EMAFast    Series
	EMASlow    Series
}

// NewSet allocates a Set of length n with every value undefined.
func NewSet(n int) Set {
	return Set{
		RSI: make(Series, n), MACD: make(Series, n), MACDSignal: make(Series, n), MACDHist: make(Series, n),
		BBLower: make(Series, n), BBMid: make(Series, n), BBUpper: make(Series, n),
		EMAFast: make(Series, n), EMASlow: make(Series, n),
	}
}

// Len returns the series length.
func (s *Set) Len() int { return len(s.RSI) }

// Get returns the named series.
func (s *Set) Get(name string) (Series, bool) {
	switch name {
	case NameRSI:
		return s.RSI, true
	case NameMACD:
		return s.MACD, true
	case NameMACDSignal:
		return s.MACDSignal, true
	case NameMACDHist:
		return s.MACDHist, true
	case NameBBLower:
		return s.BBLower, true
	case NameBBMid:
		return s.BBMid, true
	case NameBBUpper:
		return s.BBUpper, true
	case NameEMAFast:
		return s.EMAFast, true
	case NameEMASlow:
		return s.EMASlow, true
	}
	return nil, false
}

// Point returns all values at index i.
func (s *Set) Point(i int) Point {
	return Point{
		RSI: s.RSI.At(i), MACD: s.MACD.At(i), MACDSignal: s.MACDSignal.At(i), MACDHist: s.MACDHist.At(i),
		BBLower: s.BBLower.At(i), BBMid: s.BBMid.At(i), BBUpper: s.BBUpper.At(i),
		EMAFast: s.EMAFast.At(i), EMASlow: s.EMASlow.At(i),
	}
}

// SetPoint stores p at index i.
func (s *Set) SetPoint(i int, p Point) {
	s.RSI[i], s.MACD[i], s.MACDSignal[i], s.MACDHist[i] = p.RSI, p.MACD, p.MACDSignal, p.MACDHist
	s.BBLower[i], s.BBMid[i], s.BBUpper[i] = p.BBLower, p.BBMid, p.BBUpper
	s.EMAFast[i], s.EMASlow[i] = p.EMAFast, p.EMASlow
}

// Bank is the streaming indicator bank: append one candle, get the new tail.
// RSI, MACD and the EMAs consume the close; Bollinger consumes the typical price.
// Designed for single-goroutine usage: no locks needed.
type Bank struct {
	params Params
	count  int

	rsi     *RSI
	macd    *MACD
	bb      *Bollinger
	emaFast *EMA
	emaSlow *EMA
}

// NewBank creates an empty bank.
func NewBank(p Params) (*Bank, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Bank{
		params:  p,
		rsi:     NewRSI(p.RSIPeriod),
		macd:    NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		bb:      NewBollinger(p.BBWindow, p.BBStds),
		emaFast: NewEMA(p.EMAFast),
		emaSlow: NewEMA(p.EMASlow),
	}, nil
}

// Params returns the bank configuration.
func (b *Bank) Params() Params { return b.params }

// Count returns the number of candles consumed.
func (b *Bank) Count() int { return b.count }

// Update appends one candle and returns the indicator values at its index.
func (b *Bank) Update(c model.Candle) Point {
	b.count++
	b.rsi.Update(c.Close)
	b.macd.Update(c.Close)
	b.bb.Update(c.TypicalPrice())
	b.emaFast.Update(c.Close)
	b.emaSlow.Update(c.Close)
	return b.current()
}

func (b *Bank) current() Point {
	var p Point
	if b.rsi.Ready() {
		p.RSI = Defined(b.rsi.Value())
	}
	if b.macd.MACDReady() {
		p.MACD = Defined(b.macd.Value())
	}
	if b.macd.Ready() {
		p.MACDSignal = Defined(b.macd.Signal())
		p.MACDHist = Defined(b.macd.Hist())
	}
	if b.bb.Ready() {
		bands := b.bb.Bands()
		p.BBLower, p.BBMid, p.BBUpper = Defined(bands.Lower), Defined(bands.Mid), Defined(bands.Upper)
	}
	if b.emaFast.Ready() {
		p.EMAFast = Defined(b.emaFast.Value())
	}
	if b.emaSlow.Ready() {
		p.EMASlow = Defined(b.emaSlow.Value())
	}
	return p
}

// Peek returns the values Update(c) would produce, without mutating state.
// Used for live previews of a still-forming candle.
func (b *Bank) Peek(c model.Candle) Point {
	var p Point
	n := b.count + 1
	if n > b.params.RSIPeriod {
		p.RSI = Defined(b.rsi.Peek(c.Close))
	}
	if n >= b.params.MACDFast && n >= b.params.MACDSlow {
		line, signal, hist := b.macd.PeekAll(c.Close)
		p.MACD = Defined(line)
		if n-max(b.params.MACDFast, b.params.MACDSlow)+1 >= b.params.MACDSignal {
			p.MACDSignal, p.MACDHist = Defined(signal), Defined(hist)
		}
	}
	if n >= b.params.BBWindow {
		bands := b.bb.PeekBands(c.TypicalPrice())
		p.BBLower, p.BBMid, p.BBUpper = Defined(bands.Lower), Defined(bands.Mid), Defined(bands.Upper)
	}
	if n >= b.params.EMAFast {
		p.EMAFast = Defined(b.emaFast.Peek(c.Close))
	}
	if n >= b.params.EMASlow {
		p.EMASlow = Defined(b.emaSlow.Peek(c.Close))
	}
	return p
}

func (b *Bank) parts() []Snapshottable {
	return []Snapshottable{b.rsi, b.macd, b.bb, b.emaFast, b.emaSlow}
}

// Compute runs a fresh Bank over candles and returns every series.
// Values inside each indicator's own lookback are undefined.
func Compute(candles []model.Candle, p Params) (Set, error) {
	b, err := NewBank(p)
	if err != nil {
		return Set{}, err
	}
	set := NewSet(len(candles))
	for i := range candles {
		set.SetPoint(i, b.Update(candles[i]))
	}
	return set, nil
}
