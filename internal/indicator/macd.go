package indicator

// MACD tracks the MACD line (fast EMA - slow EMA), its signal line (an EMA of
// the MACD line) and the histogram (MACD - signal).
//
// The MACD line is defined once the slow EMA is seeded. The signal EMA only
// receives defined MACD values, so it is seeded by the simple average of the
// first `signal` MACD values.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	macd float64
}

// NewMACD creates a MACD with the given fast, slow and signal periods (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

// Update feeds the next close.
func (m *MACD) Update(x float64) {
	m.fast.Update(x)
	m.slow.Update(x)
	if !m.MACDReady() {
		return
	}
	m.macd = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.macd)
}

// MACDReady reports whether the MACD line is defined.
func (m *MACD) MACDReady() bool { return m.fast.Ready() && m.slow.Ready() }

// Ready reports whether the signal line and histogram are defined.
func (m *MACD) Ready() bool { return m.MACDReady() && m.signal.Ready() }

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.macd }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Hist returns MACD - signal.
func (m *MACD) Hist() float64 { return m.macd - m.signal.Value() }

// Peek returns the MACD line as it would be after x, without mutating state.
func (m *MACD) Peek(x float64) float64 {
	line, _, _ := m.PeekAll(x)
	return line
}

// PeekAll returns line, signal and histogram as they would be after x.
func (m *MACD) PeekAll(x float64) (line, signal, hist float64) {
	line = m.fast.Peek(x) - m.slow.Peek(x)
	signal = m.signal.Peek(line)
	return line, signal, line - signal
}

// Reset clears all three EMAs.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.macd = 0
}

// Snapshot serializes the three EMAs.
func (m *MACD) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "MACD",
		Current: m.macd,
		Parts:   []IndicatorSnapshot{m.fast.Snapshot(), m.slow.Snapshot(), m.signal.Snapshot()},
	}
}

// RestoreFromSnapshot restores MACD state from a checkpoint.
func (m *MACD) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.expect("MACD"); err != nil {
		return err
	}
	if len(snap.Parts) != 3 {
		return errSnapshotParts("MACD", 3, len(snap.Parts))
	}
	for i, e := range []*EMA{m.fast, m.slow, m.signal} {
		if err := e.RestoreFromSnapshot(snap.Parts[i]); err != nil {
			return err
		}
	}
	m.macd = snap.Current
	return nil
}
