package api

import (
	"net/http"

	"github.com/c360studio/nossacarteira/finance"
	"github.com/c360studio/nossacarteira/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// IDResponse carries the id of a created or saved record.
type IDResponse struct {
	ID string `json:"id"`
}

// ContributionRequest is the request body for POST /api/goals/{id}/contributions.
// A negative amount withdraws.
type ContributionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ToggleRequest is the optional request body for
// POST /api/transactions/{id}/toggle-paid.
type ToggleRequest struct {
	Month string `json:"month,omitempty"`
}

// writeAccepted answers a gated intent with the prompt awaiting confirmation.
func (h *Handler) writeAccepted(w http.ResponseWriter) {
	prompt, ok := h.confirm.Pending()
	resp := ConfirmationResponse{Pending: ok}
	if ok {
		resp.Prompt = &prompt
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleSaveGoal(w http.ResponseWriter, r *http.Request) {
	var goal finance.Goal
	if !h.decode(w, r, &goal, false) {
		return
	}
	id, err := h.coord.SaveGoal(r.Context(), goal)
	if err != nil {
		h.writeIntentError(w, "save goal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req ContributionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := h.coord.ContributeToGoal(r.Context(), chi.URLParam(r, "id"), req.Amount); err != nil {
		h.writeIntentError(w, "contribute", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteGoal(chi.URLParam(r, "id")); err != nil {
		h.writeIntentError(w, "delete goal", err)
		return
	}
	h.writeAccepted(w)
}

func (h *Handler) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx finance.Transaction
	if !h.decode(w, r, &tx, false) {
		return
	}
	tx.ID = ""
	id, err := h.coord.UpsertTransaction(r.Context(), tx, false)
	if err != nil {
		h.writeIntentError(w, "create transaction", err)
		return
	}
	// An empty id means the store rejected the create; the write failure
	// is only reflected by the sync indicator.
	h.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (h *Handler) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	var tx finance.Transaction
	if !h.decode(w, r, &tx, false) {
		return
	}
	tx.ID = chi.URLParam(r, "id")
	id, err := h.coord.UpsertTransaction(r.Context(), tx, true)
	if err != nil {
		h.writeIntentError(w, "edit transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

// handleTogglePaid handles POST /api/transactions/{id}/toggle-paid.
// The target month comes from the body or the month query parameter.
func (h *Handler) handleTogglePaid(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	if req.Month == "" {
		req.Month = r.URL.Query().Get("month")
	}
	if err := h.coord.ToggleTransactionPaid(r.Context(), chi.URLParam(r, "id"), req.Month); err != nil {
		h.writeIntentError(w, "toggle paid", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteTransaction(chi.URLParam(r, "id")); err != nil {
		h.writeIntentError(w, "delete transaction", err)
		return
	}
	h.writeAccepted(w)
}

func (h *Handler) handleSaveShoppingItem(w http.ResponseWriter, r *http.Request) {
	var item finance.ShoppingItem
	if !h.decode(w, r, &item, false) {
		return
	}
	id, err := h.coord.SaveShoppingItem(r.Context(), item)
	if err != nil {
		h.writeIntentError(w, "save shopping item", err)
		return
	}
	h.writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (h *Handler) handleToggleShoppingItem(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ToggleShoppingItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeIntentError(w, "toggle shopping item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteShoppingItem(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.DeleteShoppingItem(chi.URLParam(r, "id")); err != nil {
		h.writeIntentError(w, "delete shopping item", err)
		return
	}
	h.writeAccepted(w)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch finance.UserPatch
	if !h.decode(w, r, &patch, false) {
		return
	}
	key := finance.UserKey(chi.URLParam(r, "key"))
	if err := h.coord.UpdateUser(r.Context(), key, patch); err != nil {
		h.writeIntentError(w, "update user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateFamily(w http.ResponseWriter, r *http.Request) {
	var settings finance.FamilySettings
	if !h.decode(w, r, &settings, false) {
		return
	}
	if err := h.coord.UpdateFamilySettings(r.Context(), settings.FamilyName, settings.AlertThreshold); err != nil {
		h.writeIntentError(w, "update family", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	var overrides reconcile.Overrides
	if !h.decode(w, r, &overrides, true) {
		return
	}
	if err := h.coord.ForceFullResync(r.Context(), overrides); err != nil {
		h.writeIntentError(w, "resync", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
