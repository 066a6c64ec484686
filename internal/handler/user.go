package handler

import (
	"net/http"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/service"
)

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	CanBuy   bool   `json:"can_buy,omitempty"`
	CanSell  bool   `json:"can_sell,omitempty"`
}

type identityResponse struct {
	AccountID    int64              `json:"account_id"`
	Capabilities model.Capabilities `json:"capabilities"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, model.Capabilities{
		CanBuy:  req.CanBuy,
		CanSell: req.CanSell,
	})
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, id)
	h.writeJSON(w, http.StatusOK, identityResponse{AccountID: id.AccountID, Capabilities: id.Capabilities})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, "login user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, id)
	h.writeJSON(w, http.StatusOK, identityResponse{AccountID: id.AccountID, Capabilities: id.Capabilities})
}

type listingRequest struct {
	Title string      `json:"title"`
	Price model.Money `json:"price"`
}

// CreateListing публикует услугу продавца.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l, err := h.service.CreateListing(r.Context(), id, req.Title, req.Price)
	if err != nil {
		h.writeError(w, r, "create listing", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, l)
}

// GetListing возвращает услугу по идентификатору.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	l, err := h.service.GetListing(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, "get listing", err)
		return
	}

	h.writeJSON(w, http.StatusOK, l)
}

// CloseAccount закрывает счёт вызывающего и удаляет cookie.
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	if err := h.service.CloseAccount(r.Context(), id); err != nil {
		h.writeError(w, r, "close account", err)
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateListing меняет услугу продавца.
func (h *Handler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	listingID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var patch service.ListingPatch
	if err := decodeJSON(r, &patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l, err := h.service.UpdateListing(r.Context(), id, listingID, patch)
	if err != nil {
		h.writeError(w, r, "update listing", err)
		return
	}

	h.writeJSON(w, http.StatusOK, l)
}

// DeactivateListing снимает услугу с продажи.
func (h *Handler) DeactivateListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	listingID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	l, err := h.service.DeactivateListing(r.Context(), id, listingID)
	if err != nil {
		h.writeError(w, r, "deactivate listing", err)
		return
	}

	h.writeJSON(w, http.StatusOK, l)
}

// ListSellerListings возвращает услуги вызывающего продавца.
func (h *Handler) ListSellerListings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListSellerListings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "list listings", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string][]model.Listing{"services": list})
}
