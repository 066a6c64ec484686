package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
)

type openDisputeRequest struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// OpenDispute открывает спор по заказу.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req openDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.OpenDispute(r.Context(), id, req.OrderID, req.Reason)
	if err != nil {
		h.writeError(w, r, "open dispute", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, d)
}

type respondDisputeRequest struct {
	Response string `json:"response"`
}

// RespondDispute сохраняет ответ второй стороны.
func (h *Handler) RespondDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req respondDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.RespondDispute(r.Context(), id, disputeID, req.Response)
	if err != nil {
		h.writeError(w, r, "respond dispute", err)
		return
	}

	h.writeJSON(w, http.StatusOK, d)
}

type resolveDisputeRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// ResolveDispute закрывает спор решением арбитра.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req resolveDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.ResolveDispute(r.Context(), id, disputeID, req.Outcome)
	if err != nil {
		h.writeError(w, r, "resolve dispute", err)
		return
	}

	h.writeJSON(w, http.StatusOK, d)
}

// GetDispute возвращает спор.
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	d, err := h.service.GetDispute(r.Context(), id, disputeID)
	if err != nil {
		h.writeError(w, r, "get dispute", err)
		return
	}

	h.writeJSON(w, http.StatusOK, d)
}

// ListDisputes возвращает споры текущего пользователя.
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListDisputes(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, "list disputes", err)
		return
	}
	if list == nil {
		list = []model.Dispute{}
	}

	h.writeJSON(w, http.StatusOK, list)
}
