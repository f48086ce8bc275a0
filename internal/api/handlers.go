// Package api exposes the runtime.Engine's graph edit surface and lifecycle
// controls over HTTP, for graphctl (or any other out-of-process caller) to
// drive a running graphd. Grounded directly on the teacher's
// internal/api/handlers.go: a thin Handler struct wrapping the engine,
// json.NewEncoder/Decoder request/response bodies, http.Error for rejected
// input. Routing uses github.com/gorilla/mux, the same router the teacher
// wires its own handlers through in cmd/api/main.go.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fluxcore/streamgraph/internal/graph"
	"github.com/fluxcore/streamgraph/internal/processor"
	"github.com/fluxcore/streamgraph/internal/runtime"
)

// Handler wires the graph edit surface and lifecycle controls to HTTP.
type Handler struct {
	Engine *runtime.Engine
}

// NewHandler builds a Handler over the given engine.
func NewHandler(engine *runtime.Engine) *Handler {
	return &Handler{Engine: engine}
}

// Router builds a mux.Router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/processors", h.AddProcessor).Methods(http.MethodPost)
	r.HandleFunc("/v1/processors/{id}", h.RemoveProcessor).Methods(http.MethodDelete)
	r.HandleFunc("/v1/processors/{id}/config", h.UpdateConfig).Methods(http.MethodPatch)
	r.HandleFunc("/v1/links", h.AddLink).Methods(http.MethodPost)
	r.HandleFunc("/v1/links/{id}", h.RemoveLink).Methods(http.MethodDelete)
	r.HandleFunc("/v1/compile", h.Compile).Methods(http.MethodPost)
	r.HandleFunc("/v1/compile/deferred", h.CompileWithoutStart).Methods(http.MethodPost)
	r.HandleFunc("/v1/lifecycle/start", h.Start).Methods(http.MethodPost)
	r.HandleFunc("/v1/lifecycle/stop", h.Stop).Methods(http.MethodPost)
	r.HandleFunc("/v1/lifecycle/pause", h.Pause).Methods(http.MethodPost)
	r.HandleFunc("/v1/lifecycle/resume", h.Resume).Methods(http.MethodPost)
	r.HandleFunc("/v1/lifecycle/restart", h.Restart).Methods(http.MethodPost)
	r.HandleFunc("/v1/state", h.State).Methods(http.MethodGet)
	r.HandleFunc("/v1/snapshot", h.Snapshot).Methods(http.MethodGet)
	return r
}

type addProcessorRequest struct {
	ID      string                `json:"id"`
	Type    string                `json:"type"`
	Config  json.RawMessage       `json:"config"`
	Inputs  []processor.PortSpec  `json:"inputs"`
	Outputs []processor.PortSpec  `json:"outputs"`
}

func (h *Handler) AddProcessor(w http.ResponseWriter, r *http.Request) {
	var req addProcessorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	id, err := h.Engine.AddProcessor(req.ID, req.Type, req.Config, req.Inputs, req.Outputs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (h *Handler) RemoveProcessor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Engine.RemoveProcessor(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateConfigRequest struct {
	Config json.RawMessage `json:"config"`
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.Engine.UpdateConfig(id, req.Config); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addLinkRequest struct {
	ID   string         `json:"id"`
	From graph.Endpoint `json:"from"`
	To   graph.Endpoint `json:"to"`
}

func (h *Handler) AddLink(w http.ResponseWriter, r *http.Request) {
	var req addLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	id, err := h.Engine.AddLink(req.ID, req.From, req.To)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (h *Handler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Engine.RemoveLink(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Compile(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompileWithoutStart(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.CompileWithoutStart(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request)   { h.lifecycle(w, h.Engine.Start) }
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request)    { h.lifecycle(w, h.Engine.Stop) }
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request)   { h.lifecycle(w, h.Engine.Pause) }
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request)  { h.lifecycle(w, h.Engine.Resume) }
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) { h.lifecycle(w, h.Engine.Restart) }

func (h *Handler) lifecycle(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"state": h.Engine.State().String()})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Engine.Snapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
