package indicator

// Bollinger computes Bollinger Bands over a rolling window:
// mid = SMA(window), width = stds * population stddev of the same window.
// A constant window gives zero width (upper = mid = lower).
type Bollinger struct {
	sma  *SMA
	stds float64
}

// Bands is one Bollinger output.
type Bands struct {
	Lower, Mid, Upper float64
}

// NewBollinger creates Bollinger Bands (typically window 20, 2 stds).
func NewBollinger(window int, stds float64) *Bollinger {
	return &Bollinger{sma: NewSMA(window), stds: stds}
}

func (b *Bollinger) Name() string { return "BB" }

// Update feeds the next input (typical price in the reference strategy).
func (b *Bollinger) Update(x float64) { b.sma.Update(x) }

// Ready returns true once the window is full.
func (b *Bollinger) Ready() bool { return b.sma.Ready() }

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }

// Bands returns the current bands.
func (b *Bollinger) Bands() Bands {
	mid := b.sma.Value()
	w := b.stds * b.sma.StdDev()
	return Bands{Lower: mid - w, Mid: mid, Upper: mid + w}
}

// PeekBands returns the bands as they would be after x, without mutating state.
func (b *Bollinger) PeekBands(x float64) Bands {
	n := b.sma.period
	window := make([]float64, 0, n)
	if b.sma.count >= n {
		// Oldest value sits at idx; keep the newest n-1 and add x.
		for i := 1; i < n; i++ {
			window = append(window, b.sma.buf[(b.sma.idx+i)%n])
		}
	} else {
		window = append(window, b.sma.buf[:b.sma.count]...)
	}
	window = append(window, x)
	if len(window) < n {
		return Bands{}
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mid := sum / float64(n)
	w := b.stds * populationStdDev(window, mid)
	return Bands{Lower: mid - w, Mid: mid, Upper: mid + w}
}

// Peek returns the middle band as it would be after x.
func (b *Bollinger) Peek(x float64) float64 { return b.PeekBands(x).Mid }

// Reset clears the window.
func (b *Bollinger) Reset() { b.sma.Reset() }

// Snapshot serializes the window.
func (b *Bollinger) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:  "BB",
		Stds:  b.stds,
		Parts: []IndicatorSnapshot{b.sma.Snapshot()},
	}
}

// RestoreFromSnapshot restores Bollinger state from a checkpoint.
func (b *Bollinger) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.expect("BB"); err != nil {
		return err
	}
	if len(snap.Parts) != 1 {
		return errSnapshotParts("BB", 1, len(snap.Parts))
	}
	b.stds = snap.Stds
	return b.sma.RestoreFromSnapshot(snap.Parts[0])
}
