package handler

import (
	"net/http"

	infrahttp "github.com/skillhubio/shield/internal/infra/http"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/apierror"
)

// BlockHandler exposes active containment state.
type BlockHandler struct {
	store security.Store
}

// NewBlockHandler creates a block handler.
func NewBlockHandler(store security.Store) *BlockHandler {
	return &BlockHandler{store: store}
}

// List handles GET /api/v1/blocks.
func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	ips, err := h.store.BlockedIPs(r.Context())
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"blocked_ips": ips,
		"count":       len(ips),
	})
}

// Status handles GET /api/v1/blocks/{ip}.
func (h *BlockHandler) Status(w http.ResponseWriter, r *http.Request) {
	ip := infrahttp.PathParam(r, "ip")

	blocked, err := h.store.IsIPBlocked(r.Context(), ip)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ip":      ip,
		"blocked": blocked,
	})
}

// Unblock handles DELETE /api/v1/blocks/{ip}.
func (h *BlockHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ip := infrahttp.PathParam(r, "ip")

	if err := h.store.UnblockIP(r.Context(), ip); err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
