package strategy

import (
	"errors"
	"fmt"
	"math"

	"signal-enginev1/internal/model"
)

// ErrInvalidInput is returned when a series or configuration cannot be
// evaluated. No partial output accompanies it.
var ErrInvalidInput = errors.New("invalid input")

// ValidateSeries checks a full series before any computation.
func ValidateSeries(s model.Series) error {
	if len(s.Candles) == 0 {
		return fmt.Errorf("%w: empty candle series", ErrInvalidInput)
	}
	for i := range s.Candles {
		var prev *model.Candle
		if i > 0 {
			prev = &s.Candles[i-1]
		}
		if err := validateCandle(prev, &s.Candles[i]); err != nil {
			return fmt.Errorf("%w (index %d)", err, i)
		}
	}
	return nil
}

// validateCandle checks c and, when prev is non-nil, its ordering after prev.
func validateCandle(prev, c *model.Candle) error {
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume %v", ErrInvalidInput, c.Volume)
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite price or volume", ErrInvalidInput)
		}
	}
	if prev != nil && !c.TS.After(prev.TS) {
		return fmt.Errorf("%w: timestamp %s not after %s", ErrInvalidInput,
			c.TS.Format("2006-01-02T15:04:05Z07:00"), prev.TS.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
