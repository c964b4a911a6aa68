package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/interfaces"
)

// ClaimHandler serves the /api/claims routes
type ClaimHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewClaimHandler creates a claim handler
func NewClaimHandler(storage interfaces.StorageManager, logger arbor.ILogger) *ClaimHandler {
	return &ClaimHandler{storage: storage, logger: logger}
}

// AnchorHandler handles GET /api/claims/{claim_id}/anchor, resolving a claim
// id to its evidence binding.
func (h *ClaimHandler) AnchorHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	claimID := PathID(r.URL.Path, "/api/claims/")
	if claimID == "" {
		WriteError(w, http.StatusBadRequest, "claim id is required")
		return
	}

	claim, err := h.storage.KnowledgeStorage().GetClaim(r.Context(), claimID)
	if err != nil || claim == nil {
		WriteError(w, http.StatusNotFound, "claim not found: "+claimID)
		return
	}
	if claim.SourceAnchor == nil {
		WriteError(w, http.StatusNotFound, "claim "+claimID+" has no source anchor")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"claim_id":      claim.ID,
		"source_anchor": claim.SourceAnchor,
	})
}
