package handler

import (
	"net/http"

	"github.com/mmeshcher/warmconnects/internal/model"
)

type amountRequest struct {
	Amount model.Money `json:"amount"`
}

// PurchaseCredits пополняет кредитный баланс покупателя.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.service.PurchaseCredits(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, r, "purchase credits", err)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// Withdraw выводит заработок продавца.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.service.Withdraw(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, r, "withdraw", err)
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

// GetBalance возвращает балансы текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get balance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// GetTransactions возвращает последние записи журнала текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetTransactions(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, "get transactions", err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}
