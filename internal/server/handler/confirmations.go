package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// ConfirmationResolver lists and resolves pending mobile confirmations.
type ConfirmationResolver interface {
	FetchPending(ctx context.Context) ([]domain.ConfirmationRequest, error)
	ResolveAll(ctx context.Context) (int, error)
	DenyAll(ctx context.Context) (int, error)
}

// ConfirmationHandler serves the confirmation endpoints.
type ConfirmationHandler struct {
	confirmations ConfirmationResolver
	logger        *slog.Logger
}

// NewConfirmationHandler creates a ConfirmationHandler.
func NewConfirmationHandler(c ConfirmationResolver, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{confirmations: c, logger: logger}
}

// ListPending returns the confirmations currently awaiting a decision.
// GET /api/confirmations
func (h *ConfirmationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.confirmations.FetchPending(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "list confirmations", err)
		return
	}
	if pending == nil {
		pending = []domain.ConfirmationRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmations": pending})
}

// resolveRequest is the optional body of POST /api/confirmations/resolve.
// Approve defaults to true.
type resolveRequest struct {
	Approve *bool `json:"approve"`
}

// Resolve approves (or, with {"approve": false}, denies) every pending
// confirmation once.
// POST /api/confirmations/resolve
func (h *ConfirmationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	approve := req.Approve == nil || *req.Approve

	resolve := h.confirmations.ResolveAll
	if !approve {
		resolve = h.confirmations.DenyAll
	}
	n, err := resolve(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "resolve confirmations", err)
		return
	}
	h.logger.InfoContext(r.Context(), "confirmations resolved",
		slog.Int("count", n),
		slog.Bool("approve", approve),
	)
	writeJSON(w, http.StatusOK, map[string]any{"resolved": n, "approve": approve})
}

func (h *ConfirmationHandler) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthExpired), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "steam session rejected: "+err.Error())
		return
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "steam rate limited")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusBadGateway, "failed to "+op)
}
