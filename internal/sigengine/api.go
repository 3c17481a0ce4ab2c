package sigengine

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
)

const maxRequestBody = 32 << 20

// Router is satisfied by http.ServeMux and metrics.Server.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// API serves batch evaluation and stream inspection over HTTP.
type API struct {
	engine *strategy.Engine
	proc   *Processor
	prom   *metrics.Metrics
}

// NewAPI creates the HTTP API.
func NewAPI(engine *strategy.Engine, proc *Processor, prom *metrics.Metrics) *API {
	return &API{engine: engine, proc: proc, prom: prom}
}

// Register mounts the API routes on r.
func (a *API) Register(r Router) {
	r.Handle("/evaluate", http.HandlerFunc(a.handleEvaluate))
	r.Handle("/evaluate/batch", http.HandlerFunc(a.handleEvaluateBatch))
	r.Handle("/api/series", http.HandlerFunc(a.handleSeries))
	r.Handle("/api/config", http.HandlerFunc(a.handleConfig))
}

// EvaluateResponse is the result of evaluating one series.
type EvaluateResponse struct {
	Meta  model.Metadata    `json:"meta"`
	Count int               `json:"count"`
	Enter int               `json:"enter"`
	Exit  int               `json:"exit"`
	Rows  []model.SignalRow `json:"rows"`
}

func newEvaluateResponse(f *strategy.Frame, signalsOnly bool) EvaluateResponse {
	enter, exit := f.Counts()
	resp := EvaluateResponse{Meta: f.Meta, Count: f.Len(), Enter: enter, Exit: exit}
	if !signalsOnly {
		resp.Rows = f.Rows()
		return resp
	}
	resp.Rows = []model.SignalRow{}
	for i := 0; i < f.Len(); i++ {
		if f.Enter[i] || f.Exit[i] {
			resp.Rows = append(resp.Rows, f.Row(i))
		}
	}
	return resp
}

// handleEvaluate handles POST /evaluate with a JSON model.Series body.
// ?signals_only=true keeps only rows carrying a signal.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var s model.Series
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	start := time.Now()
	f, err := a.engine.Evaluate(s)
	a.prom.EvaluateDur.Observe(time.Since(start).Seconds())
	a.prom.EvaluationsTotal.Inc()
	if err != nil {
		a.evaluateError(w, s.Meta, err)
		return
	}
	writeJSON(w, http.StatusOK, newEvaluateResponse(f, r.URL.Query().Get("signals_only") == "true"))
}

// handleEvaluateBatch handles POST /evaluate/batch with a JSON array of
// series, evaluated in parallel. One invalid series fails the request.
func (a *API) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var series []model.Series
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&series); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	start := time.Now()
	frames, err := a.engine.EvaluateAll(r.Context(), series)
	a.prom.EvaluateDur.Observe(time.Since(start).Seconds())
	a.prom.EvaluationsTotal.Add(float64(len(series)))
	if err != nil {
		a.evaluateError(w, model.Metadata{}, err)
		return
	}

	signalsOnly := r.URL.Query().Get("signals_only") == "true"
	out := make([]EvaluateResponse, len(frames))
	for i, f := range frames {
		out[i] = newEvaluateResponse(f, signalsOnly)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) evaluateError(w http.ResponseWriter, meta model.Metadata, err error) {
	if errors.Is(err, strategy.ErrInvalidInput) {
		if meta != (model.Metadata{}) {
			a.prom.InvalidInputTotal.WithLabelValues(meta.Key()).Inc()
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleSeries handles GET /api/series: the live streams and their progress.
func (a *API) handleSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.proc.Series())
}

// handleConfig handles GET /api/config: the active strategy configuration.
func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Config())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
