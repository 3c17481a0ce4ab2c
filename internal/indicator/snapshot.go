package indicator

import (
	"encoding/json"
	"fmt"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
// Composite indicators (MACD, BB) nest their parts.
type IndicatorSnapshot struct {
	Type   string `json:"type"` // "SMA", "EMA", "RSI", "MACD", "BB"
	Period int    `json:"period,omitempty"`

	// SMA fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// BB fields
	Stds float64 `json:"stds,omitempty"`

	Parts []IndicatorSnapshot `json:"parts,omitempty"`
}

func (s IndicatorSnapshot) expect(typ string) error {
	if s.Type != typ {
		return fmt.Errorf("snapshot type %q, want %q", s.Type, typ)
	}
	return nil
}

func errSnapshotParts(typ string, want, got int) error {
	return fmt.Errorf("%s snapshot has %d parts, want %d", typ, got, want)
}

// BankSnapshot holds the full state of a Bank.
type BankSnapshot struct {
	Params     Params              `json:"params"`
	Count      int                 `json:"count"`
	Indicators []IndicatorSnapshot `json:"indicators"` // rsi, macd, bb, ema_fast, ema_slow
	Version    int                 `json:"version"`    // schema version for forward compat
}

const bankSnapshotVersion = 1

// MarshalJSON serializes the bank snapshot to JSON.
func (bs *BankSnapshot) MarshalJSON() ([]byte, error) {
	type Alias BankSnapshot
	return json.Marshal((*Alias)(bs))
}

// UnmarshalJSON deserializes the bank snapshot from JSON.
func (bs *BankSnapshot) UnmarshalJSON(data []byte) error {
	type Alias BankSnapshot
	return json.Unmarshal(data, (*Alias)(bs))
}

// SnapshotBank captures the full state of a Bank.
func SnapshotBank(b *Bank) *BankSnapshot {
	snap := &BankSnapshot{
		Params:  b.params,
		Count:   b.count,
		Version: bankSnapshotVersion,
	}
	for _, ind := range b.parts() {
		snap.Indicators = append(snap.Indicators, ind.Snapshot())
	}
	return snap
}

// RestoreBank rebuilds a Bank from a snapshot. The snapshot params must match
// the requested params; a changed configuration needs a cold start.
func RestoreBank(p Params, snap *BankSnapshot) (*Bank, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore bank: nil snapshot")
	}
	if snap.Version != bankSnapshotVersion {
		return nil, fmt.Errorf("restore bank: snapshot version %d, want %d", snap.Version, bankSnapshotVersion)
	}
	if snap.Params != p {
		return nil, fmt.Errorf("restore bank: snapshot params %+v differ from %+v", snap.Params, p)
	}
	b, err := NewBank(p)
	if err != nil {
		return nil, err
	}
	parts := b.parts()
	if len(snap.Indicators) != len(parts) {
		return nil, fmt.Errorf("restore bank: %d indicators in snapshot, want %d", len(snap.Indicators), len(parts))
	}
	for i, ind := range parts {
		if err := ind.RestoreFromSnapshot(snap.Indicators[i]); err != nil {
			return nil, fmt.Errorf("restore bank: %w", err)
		}
	}
	b.count = snap.Count
	return b, nil
}
