package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// CodeSource produces the current rotating login code and the server time it
// was computed for.
type CodeSource interface {
	CurrentCode(ctx context.Context) (domain.RotatingCode, time.Time, error)
}

// GuardHandler serves the rotating login code.
type GuardHandler struct {
	codes  CodeSource
	logger *slog.Logger
}

// NewGuardHandler creates a GuardHandler.
func NewGuardHandler(codes CodeSource, logger *slog.Logger) *GuardHandler {
	return &GuardHandler{codes: codes, logger: logger}
}

// GetCode returns the code and how many whole seconds it stays valid.
// GET /api/guard/code
func (h *GuardHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	code, now, err := h.codes.CurrentCode(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: guard code failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to generate code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":         code.Value,
		"valid_from":   code.ValidFrom.UTC().Format(time.RFC3339),
		"seconds_left": int(math.Ceil(code.Remaining(now).Seconds())),
	})
}
