// Package strategy turns a candle series into an augmented series carrying
// indicator columns and enter/exit signal columns.
//
// An Engine is built from an immutable Config and a pair of injected rule
// predicates. Evaluate processes a whole series; a Stream produces the same
// rows one candle at a time.
package strategy

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Engine evaluates candle series. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg   Config
	rules Rules
}

// Option customises an Engine.
type Option func(*Engine)

// WithRules replaces the entry and exit rules. Nil members keep the default.
func WithRules(r Rules) Option {
	return func(e *Engine) {
		if r.Entry != nil {
			e.rules.Entry = r.Entry
		}
		if r.Exit != nil {
			e.rules.Exit = r.Exit
		}
	}
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, rules: DefaultRules(cfg)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Warmup returns the number of leading candles that never carry a defined
// indicator value or a signal.
func (e *Engine) Warmup() int { return e.cfg.WarmupWindow }

// Evaluate validates s, computes every indicator, masks the warm-up window and
// applies the rules. The input is not modified. A series shorter than the
// warm-up window yields an all-undefined frame, not an error.
func (e *Engine) Evaluate(s model.Series) (*Frame, error) {
	if err := ValidateSeries(s); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", s.Meta.Key(), err)
	}
	set, err := indicator.Compute(s.Candles, e.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w: %w", s.Meta.Key(), ErrInvalidInput, err)
	}
	maskWarmup(&set, e.cfg.WarmupWindow)

	candles := make([]model.Candle, len(s.Candles))
	copy(candles, s.Candles)
	f := &Frame{Meta: s.Meta, Candles: candles, Indicators: set}
	f.applyRules(e.rules)
	return f, nil
}

// EvaluateAll evaluates independent series in parallel. Frames are returned in
// input order; the first failure cancels the rest and is returned.
func (e *Engine) EvaluateAll(ctx context.Context, series []model.Series) ([]*Frame, error) {
	frames := make([]*Frame, len(series))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range series {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := e.Evaluate(series[i])
			if err != nil {
				return err
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

func maskWarmup(set *indicator.Set, warmup int) {
	n := min(warmup, set.Len())
	for i := 0; i < n; i++ {
		set.SetPoint(i, indicator.Point{})
	}
}
