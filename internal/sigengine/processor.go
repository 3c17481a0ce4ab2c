package sigengine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
)

// ErrUnknownSeries is returned for events of a series the processor was not
// configured with.
var ErrUnknownSeries = errors.New("unknown series")

// Processor owns one strategy.Stream per configured series and turns candle
// events into signal rows. Safe for concurrent use; events of one series must
// arrive in order.
type Processor struct {
	engine *strategy.Engine
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	mu         sync.Mutex
	configured map[string]struct{}
	streams    map[string]*strategy.Stream
}

// NewProcessor creates a processor with no streams.
func NewProcessor(engine *strategy.Engine, prom *metrics.Metrics, health *metrics.HealthStatus) *Processor {
	prom.WarmupCandles.Set(float64(engine.Warmup()))
	return &Processor{
		engine:     engine,
		prom:       prom,
		health:     health,
		configured: make(map[string]struct{}),
		streams:    make(map[string]*strategy.Stream),
	}
}

// stream returns the stream of a configured series, creating it when
// missing. Caller holds p.mu.
func (p *Processor) stream(meta model.Metadata) (*strategy.Stream, bool) {
	key := meta.Key()
	if _, ok := p.configured[key]; !ok {
		return nil, false
	}
	s, ok := p.streams[key]
	if !ok {
		s = p.engine.NewStream(meta)
		p.streams[key] = s
		slog.Info("[sigengine] new stream", "series", key)
	}
	return s, true
}

// Ensure configures the given series and creates empty streams for those not
// yet known. Events of any other series are rejected.
func (p *Processor) Ensure(metas []model.Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range metas {
		p.configured[m.Key()] = struct{}{}
		p.stream(m)
	}
}

// Keys returns the series keys of all streams, sorted.
func (p *Processor) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.streams))
	for k := range p.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SeriesInfo describes one live stream.
type SeriesInfo struct {
	Meta   model.Metadata `json:"meta"`
	Count  int            `json:"count"`
	LastTS *time.Time     `json:"last_ts"`
	Warm   bool           `json:"warm"`
}

// Series lists every stream with its progress.
func (p *Processor) Series() []SeriesInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SeriesInfo, 0, len(p.streams))
	for _, s := range p.streams {
		info := SeriesInfo{Meta: s.Meta(), Count: s.Count(), Warm: s.Count() > p.engine.Warmup()}
		if last := s.Last(); last != nil {
			ts := last.TS
			info.LastTS = &ts
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Key() < out[j].Meta.Key() })
	return out
}

// LastTS returns the timestamp of the last candle of meta, if any.
func (p *Processor) LastTS(meta model.Metadata) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[meta.Key()]
	if !ok || s.Last() == nil {
		return time.Time{}, false
	}
	return s.Last().TS, true
}

// Handle evaluates one candle event. Closed candles advance the stream;
// forming candles are previewed without mutating it. It returns nil when the
// event is a redelivery of a candle already appended, and ErrUnknownSeries
// when ev belongs to a series that was never configured.
func (p *Processor) Handle(ev model.CandleEvent) (*model.SignalRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stream(ev.Meta)
	if !ok {
		p.prom.EventsRejected.WithLabelValues("unknown_series").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeries, ev.Meta.Key())
	}
	if last := s.Last(); last != nil && !ev.Candle.TS.After(last.TS) {
		return nil, nil
	}

	if ev.Forming {
		row, err := s.Peek(ev.Candle)
		if err != nil {
			return nil, err
		}
		row.Preview = true
		return &row, nil
	}

	start := time.Now()
	row, err := s.Append(ev.Candle)
	p.prom.AppendDur.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidInput) {
			p.prom.InvalidInputTotal.WithLabelValues(ev.Meta.Key()).Inc()
		}
		return nil, err
	}

	p.prom.RecordRow(&row)
	p.health.SetLastCandleTime(time.Now())
	return &row, nil
}

// Warm appends historical candles to the stream of meta without emitting
// rows. Candles at or before the stream's last candle are skipped, invalid
// ones are counted and skipped. Returns the number appended, zero for a
// series that is not configured.
func (p *Processor) Warm(meta model.Metadata, candles []model.Candle) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stream(meta)
	if !ok {
		return 0
	}
	n := 0
	for _, c := range candles {
		if last := s.Last(); last != nil && !c.TS.After(last.TS) {
			continue
		}
		if _, err := s.Append(c); err != nil {
			p.prom.InvalidInputTotal.WithLabelValues(meta.Key()).Inc()
			slog.Warn("[sigengine] warm-up candle rejected", "series", meta.Key(), "error", err)
			continue
		}
		n++
	}
	return n
}
