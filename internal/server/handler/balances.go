package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// BalanceSource reports per-market balances plus a "total" entry.
type BalanceSource interface {
	Balances(ctx context.Context) (map[string]domain.Balance, error)
}

// BalanceHandler serves wallet balances.
type BalanceHandler struct {
	source BalanceSource
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(source BalanceSource, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{source: source, logger: logger}
}

// GetBalances returns every market balance that answered. Failing markets are
// listed under "errors" and do not fail the request.
// GET /api/balances
func (h *BalanceHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.source.Balances(r.Context())
	resp := map[string]any{"balances": balances}
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: balance lookup incomplete",
			slog.String("error", err.Error()),
		)
		resp["errors"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
