package strategy

import "signal-enginev1/internal/indicator"

// CrossedAbove reports whether a moved from at-or-below b at i-1 to above b
// at i. Index 0 and undefined values at either index give false.
func CrossedAbove(a, b indicator.Series, i int) bool {
	if i <= 0 {
		return false
	}
	return crossedAbove(a.At(i-1), a.At(i), b.At(i-1), b.At(i))
}

// CrossedBelow reports whether a moved from at-or-above b at i-1 to below b at i.
func CrossedBelow(a, b indicator.Series, i int) bool {
	if i <= 0 {
		return false
	}
	return crossedAbove(b.At(i-1), b.At(i), a.At(i-1), a.At(i))
}

// CrossedAboveLevel is CrossedAbove against the constant series level.
func CrossedAboveLevel(a indicator.Series, level float64, i int) bool {
	if i <= 0 {
		return false
	}
	l := indicator.Defined(level)
	return crossedAbove(a.At(i-1), a.At(i), l, l)
}

// CrossedBelowLevel is CrossedBelow against the constant series level.
func CrossedBelowLevel(a indicator.Series, level float64, i int) bool {
	if i <= 0 {
		return false
	}
	l := indicator.Defined(level)
	return crossedAbove(l, l, a.At(i-1), a.At(i))
}

// Constant returns a defined series of n copies of v.
func Constant(n int, v float64) indicator.Series {
	out := make(indicator.Series, n)
	for i := range out {
		out[i] = indicator.Defined(v)
	}
	return out
}

func crossedAbove(aPrev, aCur, bPrev, bCur indicator.Value) bool {
	if !aPrev.Valid || !aCur.Valid || !bPrev.Valid || !bCur.Valid {
		return false
	}
	return aPrev.V <= bPrev.V && aCur.V > bCur.V
}
