package strategy

import (
	"fmt"
	"time"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Stream evaluates one series incrementally. Append(c) returns the same row
// Evaluate would produce for c's index over the whole history.
// Designed for single-goroutine usage: no locks needed.
type Stream struct {
	engine *Engine
	meta   model.Metadata
	bank   *indicator.Bank

	// previous row, kept for rules that look back one index
	last      *model.Candle
	lastPoint indicator.Point
}

// NewStream starts an empty stream for meta.
func (e *Engine) NewStream(meta model.Metadata) *Stream {
	// Params were validated by NewEngine.
	bank, _ := indicator.NewBank(e.cfg.Params)
	return &Stream{engine: e, meta: meta, bank: bank}
}

// Meta returns the series identity.
func (s *Stream) Meta() model.Metadata { return s.meta }

// Count returns the number of candles appended.
func (s *Stream) Count() int { return s.bank.Count() }

// Last returns the last appended candle, or nil.
func (s *Stream) Last() *model.Candle { return s.last }

// Append validates c against the previous candle, advances the indicators and
// evaluates the rules at the new index. A rejected candle leaves the stream
// unchanged.
func (s *Stream) Append(c model.Candle) (model.SignalRow, error) {
	if err := validateCandle(s.last, &c); err != nil {
		return model.SignalRow{}, fmt.Errorf("append %s: %w", s.meta.Key(), err)
	}
	p := s.bank.Update(c)
	if s.bank.Count() <= s.engine.cfg.WarmupWindow {
		p = indicator.Point{}
	}
	row := s.evaluate(c, p)
	s.last = &c
	s.lastPoint = p
	return row, nil
}

// Peek returns the row c would produce if appended, without mutating the
// stream. Used for still-forming candles.
func (s *Stream) Peek(c model.Candle) (model.SignalRow, error) {
	if err := validateCandle(s.last, &c); err != nil {
		return model.SignalRow{}, fmt.Errorf("peek %s: %w", s.meta.Key(), err)
	}
	p := s.bank.Peek(c)
	if s.bank.Count()+1 <= s.engine.cfg.WarmupWindow {
		p = indicator.Point{}
	}
	return s.evaluate(c, p), nil
}

// evaluate runs the rules on a window holding the previous row and c.
func (s *Stream) evaluate(c model.Candle, p indicator.Point) model.SignalRow {
	n := 1
	if s.last != nil {
		n = 2
	}
	f := &Frame{Meta: s.meta, Candles: make([]model.Candle, n), Indicators: indicator.NewSet(n)}
	if s.last != nil {
		f.Candles[0] = *s.last
		f.Indicators.SetPoint(0, s.lastPoint)
	}
	i := n - 1
	f.Candles[i] = c
	f.Indicators.SetPoint(i, p)
	f.applyRules(s.engine.rules)
	return f.Row(i)
}

// StreamSnapshot is the persisted state of a Stream.
type StreamSnapshot struct {
	Version   int                     `json:"version"`
	Meta      model.Metadata          `json:"meta"`
	Bank      *indicator.BankSnapshot `json:"bank"`
	Last      *model.Candle           `json:"last,omitempty"`
	LastPoint indicator.Point         `json:"last_point"`
	TakenAt   time.Time               `json:"taken_at"`
}

// Snapshot captures the stream state.
func (s *Stream) Snapshot() *StreamSnapshot {
	snap := &StreamSnapshot{
		Version:   1,
		Meta:      s.meta,
		Bank:      indicator.SnapshotBank(s.bank),
		LastPoint: s.lastPoint,
		TakenAt:   time.Now().UTC(),
	}
	if s.last != nil {
		c := *s.last
		snap.Last = &c
	}
	return snap
}

// RestoreStream rebuilds a stream from a snapshot taken with the same
// indicator parameters.
func (e *Engine) RestoreStream(snap *StreamSnapshot) (*Stream, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore stream: nil snapshot")
	}
	if snap.Version != 1 {
		return nil, fmt.Errorf("restore stream %s: unsupported version %d", snap.Meta.Key(), snap.Version)
	}
	bank, err := indicator.RestoreBank(e.cfg.Params, snap.Bank)
	if err != nil {
		return nil, fmt.Errorf("restore stream %s: %w", snap.Meta.Key(), err)
	}
	if (snap.Last == nil) != (bank.Count() == 0) {
		return nil, fmt.Errorf("restore stream %s: last candle inconsistent with count %d", snap.Meta.Key(), bank.Count())
	}
	s := &Stream{engine: e, meta: snap.Meta, bank: bank, lastPoint: snap.LastPoint}
	if snap.Last != nil {
		c := *snap.Last
		s.last = &c
	}
	return s, nil
}
