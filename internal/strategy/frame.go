package strategy

import (
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Frame is the augmented output of an evaluation: candles, indicators and the
// two signal columns, all aligned index for index.
type Frame struct {
	Meta       model.Metadata
	Candles    []model.Candle
	Indicators indicator.Set
	Enter      []bool
	Exit       []bool
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Candles) }

// Row flattens index i into a SignalRow.
func (f *Frame) Row(i int) model.SignalRow {
	c := f.Candles[i]
	p := f.Indicators.Point(i)
	return model.SignalRow{
		Meta:       f.Meta,
		TS:         c.TS,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		RSI:        p.RSI.Ptr(),
		MACD:       p.MACD.Ptr(),
		MACDSignal: p.MACDSignal.Ptr(),
		MACDHist:   p.MACDHist.Ptr(),
		BBLower:    p.BBLower.Ptr(),
		BBMid:      p.BBMid.Ptr(),
		BBUpper:    p.BBUpper.Ptr(),
		EMAFast:    p.EMAFast.Ptr(),
		EMASlow:    p.EMASlow.Ptr(),
		Enter:      f.Enter[i],
		Exit:       f.Exit[i],
	}
}

// Rows flattens the whole frame.
func (f *Frame) Rows() []model.SignalRow {
	rows := make([]model.SignalRow, f.Len())
	for i := range rows {
		rows[i] = f.Row(i)
	}
	return rows
}

// Counts returns how many rows carry an enter and an exit signal.
func (f *Frame) Counts() (enter, exit int) {
	for i := range f.Enter {
		if f.Enter[i] {
			enter++
		}
		if f.Exit[i] {
			exit++
		}
	}
	return enter, exit
}

// applyRules fills the signal columns from the indicator columns.
func (f *Frame) applyRules(r Rules) {
	n := f.Len()
	f.Enter = make([]bool, n)
	f.Exit = make([]bool, n)
	for i := 0; i < n; i++ {
		f.Enter[i] = r.Entry(f, i)
		f.Exit[i] = r.Exit(f, i)
	}
}
