package leader

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler exposes the leader's status and session control over HTTP.
type Handler struct {
	engine *Engine
	log    *slog.Logger
}

// NewHandler returns a Handler driving the given engine.
func NewHandler(engine *Engine, log *slog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response", slog.String("error", err.Error()))
	}
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// GetCollaborators handles GET /collaborators.
func (h *Handler) GetCollaborators(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Collaborators())
}

// StartSession handles POST /session/start.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartSession(); err != nil {
		h.log.Error("start session failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// StopSession handles POST /session/stop.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopSession(); err != nil {
		h.log.Error("stop session failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Status())
}

// ReloadSchedule handles POST /schedule/reload.
func (h *Handler) ReloadSchedule(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ReloadSchedule()
	if err != nil {
		h.log.Error("reload schedule failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"cues": n})
}
