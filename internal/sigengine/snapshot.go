package sigengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
)

const snapshotVersion = 1

// snapshotDoc is the persisted state of every stream.
type snapshotDoc struct {
	Version int                        `json:"version"`
	TakenAt time.Time                  `json:"taken_at"`
	Reason  string                     `json:"reason"`
	Streams []*strategy.StreamSnapshot `json:"streams"`
}

// Snapshot encodes the state of all streams. reason is informational,
// e.g. "periodic" or "shutdown".
func (p *Processor) Snapshot(reason string) ([]byte, int, error) {
	p.mu.Lock()
	doc := snapshotDoc{
		Version: snapshotVersion,
		TakenAt: time.Now().UTC(),
		Reason:  reason,
		Streams: make([]*strategy.StreamSnapshot, 0, len(p.streams)),
	}
	for _, s := range p.streams {
		doc.Streams = append(doc.Streams, s.Snapshot())
	}
	p.mu.Unlock()

	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, len(doc.Streams), nil
}

// Restore replaces streams with those held in a snapshot document. Streams
// that cannot be restored (e.g. indicator parameters changed) are skipped and
// start cold; streams of series no longer configured are dropped. Returns the
// number restored.
func (p *Processor) Restore(data []byte) (int, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return 0, fmt.Errorf("decode snapshot: unsupported version %d", doc.Version)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, snap := range doc.Streams {
		if snap == nil {
			continue
		}
		if _, ok := p.configured[snap.Meta.Key()]; !ok {
			slog.Info("[sigengine] snapshot stream not configured, dropped", "series", snap.Meta.Key())
			continue
		}
		s, err := p.engine.RestoreStream(snap)
		if err != nil {
			slog.Warn("[sigengine] stream not restored", "error", err)
			continue
		}
		p.streams[s.Meta().Key()] = s
		n++
	}
	slog.Info("[sigengine] restored snapshot", "streams", n, "taken_at", doc.TakenAt, "reason", doc.Reason)
	return n, nil
}

// restoreFrom tries each store in order and restores from the first one
// holding a usable snapshot.
func (p *Processor) restoreFrom(ctx context.Context, stores ...namedStore) string {
	for _, st := range stores {
		data, err := st.store.ReadLatestSnapshotJSON(ctx)
		if err != nil {
			slog.Warn("[sigengine] snapshot read error", "store", st.name, "error", err)
			continue
		}
		if data == nil {
			continue
		}
		if _, err := p.Restore(data); err != nil {
			slog.Warn("[sigengine] snapshot restore error", "store", st.name, "error", err)
			continue
		}
		return st.name
	}
	return ""
}

// namedStore labels a snapshot store for logs and metrics.
type namedStore struct {
	name  string
	store model.SnapshotStore
}

// saveSnapshot writes one snapshot to every store.
func (svc *Service) saveSnapshot(ctx context.Context, reason string) {
	data, n, err := svc.proc.Snapshot(reason)
	if err != nil {
		slog.Error("[sigengine] snapshot error", "error", err)
		return
	}
	for _, st := range svc.snapshotStores() {
		if err := st.store.SaveSnapshotJSON(ctx, data); err != nil {
			slog.Error("[sigengine] snapshot write error", "store", st.name, "error", err)
			continue
		}
		svc.prom.SnapshotsTotal.WithLabelValues(st.name).Inc()
	}
	slog.Info("[sigengine] checkpoint saved", "streams", n, "reason", reason)
}

// snapshotLoop periodically checkpoints every stream.
func (svc *Service) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			svc.saveSnapshot(ctx, "periodic")
		}
	}
}
