package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// EngineController is the slice of the trading engine the API drives.
type EngineController interface {
	Start() error
	Stop()
	Pause()
	Resume()
	Stats() domain.EngineStats
	State() domain.EngineState
	LastError() string
}

// EngineHandler serves engine status and lifecycle endpoints.
type EngineHandler struct {
	engine EngineController
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine EngineController, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// statsResponse adds the derived figures to the raw counters.
type statsResponse struct {
	domain.EngineStats
	AvgProfit     float64 `json:"avg_profit"`
	SuccessRate   float64 `json:"success_rate"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// GetStats returns the engine counters.
// GET /api/stats
func (h *EngineHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		EngineStats:   s,
		AvgProfit:     s.AvgProfit(),
		SuccessRate:   s.SuccessRate(),
		UptimeSeconds: int64(s.Uptime(time.Now()).Seconds()),
	})
}

// stateResponse is the body of GET /api/state.
type stateResponse struct {
	State     domain.EngineState `json:"state"`
	Running   bool               `json:"running"`
	Paused    bool               `json:"paused"`
	LastError string             `json:"last_error,omitempty"`
}

// GetState returns the current execution step and run flags.
// GET /api/state
func (h *EngineHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Control applies a lifecycle action taken from the path.
// POST /api/engine/{action}
func (h *EngineHandler) Control(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	switch action {
	case "start":
		if err := h.engine.Start(); err != nil {
			h.logger.WarnContext(r.Context(), "engine start refused",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	case "stop":
		h.engine.Stop()
	case "pause":
		h.engine.Pause()
	case "resume":
		h.engine.Resume()
	default:
		writeError(w, http.StatusNotFound, "unknown engine action "+action)
		return
	}
	h.logger.InfoContext(r.Context(), "engine control", slog.String("action", action))
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *EngineHandler) snapshot() stateResponse {
	s := h.engine.Stats()
	return stateResponse{
		State:     h.engine.State(),
		Running:   s.Running,
		Paused:    s.Paused,
		LastError: h.engine.LastError(),
	}
}
