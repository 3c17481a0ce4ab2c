// Package api provides the REST handlers of the standalone signal gateway:
// latest rows and short histories read back from Redis.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"signal-enginev1/internal/model"
)

const (
	defaultLimit = 200
	maxLimit     = 1000
)

// Source reads stored rows and candles; implemented by the Redis reader.
type Source interface {
	LatestRow(ctx context.Context, meta model.Metadata) (*model.SignalRow, error)
	SignalHistory(ctx context.Context, meta model.Metadata, before time.Time, limit int64) ([]model.SignalRow, error)
	CandleHistory(ctx context.Context, meta model.Metadata, before time.Time, limit int64) ([]model.Candle, error)
}

// NewRouter sets up the REST routes on a new mux. series lists the series
// served when a request names none.
func NewRouter(src Source, series []model.Metadata) *http.ServeMux {
	h := &handlers{src: src, series: series}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/series", h.listSeries)
	mux.HandleFunc("/api/v1/signals/latest", h.latest)
	mux.HandleFunc("/api/v1/signals/history", h.signalHistory)
	mux.HandleFunc("/api/v1/candles", h.candleHistory)

	return mux
}

// WithCORS allows any origin, for browser dashboards.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type handlers struct {
	src    Source
	series []model.Metadata
}

func (h *handlers) listSeries(w http.ResponseWriter, r *http.Request) {
	keys := make([]string, len(h.series))
	for i, m := range h.series {
		keys[i] = m.Key()
	}
	writeJSON(w, http.StatusOK, keys)
}

// latest handles GET ?series=exchange:pair:tf (repeatable). Without series,
// every configured series is returned. Missing rows are omitted.
func (h *handlers) latest(w http.ResponseWriter, r *http.Request) {
	metas, ok := h.seriesParam(w, r)
	if !ok {
		return
	}
	out := make(map[string]*model.SignalRow, len(metas))
	for _, m := range metas {
		row, err := h.src.LatestRow(r.Context(), m)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		if row != nil {
			out[m.Key()] = row
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// signalHistory handles GET ?series=...&limit=N&before=RFC3339.
func (h *handlers) signalHistory(w http.ResponseWriter, r *http.Request) {
	meta, before, limit, ok := h.historyParams(w, r)
	if !ok {
		return
	}
	rows, err := h.src.SignalHistory(r.Context(), meta, before, limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if r.URL.Query().Get("signals_only") == "true" {
		kept := make([]model.SignalRow, 0, len(rows))
		for _, row := range rows {
			if row.Enter || row.Exit {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	writeJSON(w, http.StatusOK, rows)
}

// candleHistory handles GET ?series=...&limit=N&before=RFC3339.
func (h *handlers) candleHistory(w http.ResponseWriter, r *http.Request) {
	meta, before, limit, ok := h.historyParams(w, r)
	if !ok {
		return
	}
	candles, err := h.src.CandleHistory(r.Context(), meta, before, limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *handlers) seriesParam(w http.ResponseWriter, r *http.Request) ([]model.Metadata, bool) {
	keys := r.URL.Query()["series"]
	if len(keys) == 0 {
		return h.series, true
	}
	metas := make([]model.Metadata, 0, len(keys))
	for _, k := range keys {
		m, ok := model.ParseSeriesKey(k)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid series " + strconv.Quote(k)})
			return nil, false
		}
		metas = append(metas, m)
	}
	return metas, true
}

func (h *handlers) historyParams(w http.ResponseWriter, r *http.Request) (model.Metadata, time.Time, int64, bool) {
	q := r.URL.Query()

	var meta model.Metadata
	if key := q.Get("series"); key != "" {
		m, ok := model.ParseSeriesKey(key)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid series " + strconv.Quote(key)})
			return meta, time.Time{}, 0, false
		}
		meta = m
	} else if len(h.series) > 0 {
		meta = h.series[0]
	} else {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "series is required"})
		return meta, time.Time{}, 0, false
	}

	limit := int64(defaultLimit)
	if s := q.Get("limit"); s != "" {
		if l, err := strconv.ParseInt(s, 10, 64); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}

	var before time.Time
	if s := q.Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "before must be RFC3339"})
			return meta, time.Time{}, 0, false
		}
		before = t
	}
	return meta, before, limit, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
