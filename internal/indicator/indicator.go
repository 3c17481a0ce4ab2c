// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is a small streaming state machine fed one value at a time
// (Update/Value/Ready). The batch helpers in this package drive those same
// state machines over a whole slice, so streaming and batch results agree
// bit for bit.
package indicator

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPeriod is returned for non-positive periods and windows.
var ErrInvalidPeriod = errors.New("invalid indicator period")

// Indicator is the interface for the scalar streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds the next input value and recalculates.
	Update(x float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if x were added next,
	// WITHOUT mutating internal state.
	Peek(x float64) float64
}

// Value is one element of an indicator series: a number that may be undefined.
type Value struct {
	V     float64 `json:"v"`
	Valid bool    `json:"ok"`
}

// Undefined is the zero Value.
var Undefined = Value{}

// Defined wraps v as a defined Value. A NaN or infinite v, which only arises
// from overflow on extreme prices, is Undefined.
func Defined(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined
	}
	return Value{V: v, Valid: true}
}

// Ptr returns a pointer to the number, or nil when undefined.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	x := v.V
	return &x
}

// Series is an indicator output aligned index-for-index with its input.
type Series []Value

// At returns the element at i, or Undefined when i is out of range.
func (s Series) At(i int) Value {
	if i < 0 || i >= len(s) {
		return Undefined
	}
	return s[i]
}

// DefinedFrom returns the first index holding a defined value, or -1.
func (s Series) DefinedFrom() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s period %d", ErrInvalidPeriod, name, period)
	}
	return nil
}

// run drives a streaming indicator over xs and records each output.
func run(ind Indicator, xs []float64) Series {
	out := make(Series, len(xs))
	for i, x := range xs {
		ind.Update(x)
		if ind.Ready() {
			out[i] = Defined(ind.Value())
		}
	}
	return out
}
