package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// DealHandler serves the deal result history. With a nil store every request
// returns 501.
type DealHandler struct {
	deals  domain.DealStore
	logger *slog.Logger
}

// NewDealHandler creates a DealHandler. deals may be nil.
func NewDealHandler(deals domain.DealStore, logger *slog.Logger) *DealHandler {
	return &DealHandler{deals: deals, logger: logger}
}

type listDealsResponse struct {
	Deals []domain.DealResult `json:"deals"`
}

// ListDeals returns recent deal results, newest first.
// GET /api/deals?limit=50&offset=0&since=...&until=...
func (h *DealHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	if h.deals == nil {
		writeError(w, http.StatusNotImplemented, "deal history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deals, err := h.deals.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list deals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list deals")
		return
	}
	if deals == nil {
		deals = []domain.DealResult{}
	}
	writeJSON(w, http.StatusOK, listDealsResponse{Deals: deals})
}

// GetDeal returns one deal result.
// GET /api/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	if h.deals == nil {
		writeError(w, http.StatusNotImplemented, "deal history requires postgres")
		return
	}
	id := r.PathValue("id")
	res, err := h.deals.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get deal failed",
			slog.String("deal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get deal")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
