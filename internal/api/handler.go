package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/simgate/internal/config"
	"github.com/gyaneshwarpardhi/simgate/internal/engine"
	"github.com/gyaneshwarpardhi/simgate/internal/filter"
	"github.com/gyaneshwarpardhi/simgate/internal/gate"
	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
	"github.com/gyaneshwarpardhi/simgate/internal/statemachine"
)

const maxBodyBytes = 1 << 20

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. Everything under
// /v1/ passes through the admission gate; probes and metrics do not.
func New(eng *engine.Engine, loader *config.Loader, g *gate.Gate) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/events", h.listEvents)
	v1.HandleFunc("POST /v1/events", h.emitEvent)
	v1.HandleFunc("POST /v1/events/drain", h.drainEvents)
	v1.HandleFunc("GET /v1/events/stream", h.streamEvents)
	v1.HandleFunc("GET /v1/stats", h.stats)
	v1.HandleFunc("GET /v1/machines", h.listMachines)
	v1.HandleFunc("POST /v1/machines/reload", h.reloadMachines)
	v1.HandleFunc("GET /v1/entities", h.listEntities)
	v1.HandleFunc("POST /v1/entities", h.spawnEntity)
	v1.HandleFunc("DELETE /v1/entities/{id}", h.despawnEntity)
	v1.HandleFunc("GET /v1/entities/{id}/state", h.getState)
	v1.HandleFunc("POST /v1/entities/{id}/state", h.setState)
	v1.HandleFunc("GET /v1/entities/{id}/machine", h.getMachine)
	v1.HandleFunc("PUT /v1/entities/{id}/machine", h.putMachine)

	h.mux.Handle("/v1/", g.Middleware(v1))
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// GET /v1/events?after=&limit=&filter= — read without consuming.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.eng.Events(r.Context(), q)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type emitRequest struct {
	Name         string  `json:"name"`
	Data         any     `json:"data"`
	SourceEntity *uint64 `json:"source_entity"`
}

// POST /v1/events — append an event from an external producer.
func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	seq, err := h.eng.Emit(r.Context(), req.Name, req.Data, req.SourceEntity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"seq": seq})
}

// POST /v1/events/drain — remove and return all retained events.
func (h *Handler) drainEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.eng.Drain(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "count": len(evs)})
}

// GET /v1/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /v1/machines — list loaded machine templates.
func (h *Handler) listMachines(w http.ResponseWriter, r *http.Request) {
	cfg := h.eng.Templates()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  cfg.Version,
		"machines": cfg.Machines,
	})
}

// POST /v1/machines/reload — hot-reload templates from disk.
func (h *Handler) reloadMachines(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.eng.SwapTemplates(cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":       true,
		"machines_count": len(cfg.Machines),
	})
}

// GET /v1/entities
func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	list, err := h.eng.Entities(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": list})
}

type spawnRequest struct {
	Template string `json:"template"`
}

// POST /v1/entities — spawn from a template.
func (h *Handler) spawnEntity(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	ent, err := h.eng.Spawn(r.Context(), req.Template)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

// DELETE /v1/entities/{id}
func (h *Handler) despawnEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	if err := h.eng.Despawn(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/entities/{id}/state
func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	st, err := h.eng.State(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type transitionRequest struct {
	State string `json:"state"`
}

// POST /v1/entities/{id}/state — request a transition.
func (h *Handler) setState(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.State == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}
	st, err := h.eng.Transition(r.Context(), id, req.State)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/entities/{id}/machine — full machine snapshot.
func (h *Handler) getMachine(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	m, err := h.eng.Machine(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PUT /v1/entities/{id}/machine — restore a snapshot.
func (h *Handler) putMachine(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var m statemachine.Machine
	if !decodeBody(w, r, &m) {
		return
	}
	ent, err := h.eng.Restore(r.Context(), id, &m)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the command queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func parseEventQuery(r *http.Request) (engine.EventQuery, error) {
	var q engine.EventQuery
	v := r.URL.Query()
	if s := v.Get("after"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid after %q", s)
		}
		q.After = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	f, err := filter.Compile(v.Get("filter"))
	if err != nil {
		return q, err
	}
	q.Filter = f
	return q, nil
}

func entityID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entity id %q", raw))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return false
	}
	return true
}

// writeEngineError maps engine and state machine errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, statemachine.ErrTransitionDenied):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, statemachine.ErrUnknownState), errors.Is(err, engine.ErrUnknownTemplate):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}
