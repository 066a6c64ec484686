package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/service"
)

type createReviewRequest struct {
	OrderID        uuid.UUID `json:"order_id"`
	Rating         int       `json:"overall_rating"`
	Text           string    `json:"review_text"`
	WouldWorkAgain *bool     `json:"would_work_again"`
}

// CreateReview сохраняет отзыв по завершённому заказу.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req createReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d := service.ReviewDraft{OrderID: req.OrderID, Rating: req.Rating, Text: req.Text, WouldWorkAgain: true}
	if req.WouldWorkAgain != nil {
		d.WouldWorkAgain = *req.WouldWorkAgain
	}

	review, err := h.service.CreateReview(r.Context(), id, d)
	if err != nil {
		h.writeError(w, r, "create review", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, review)
}

// ListUserReviews возвращает отзывы о пользователе. Маршрут доступен без авторизации.
func (h *Handler) ListUserReviews(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "malformed id", http.StatusBadRequest)
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	sum, err := h.service.ListUserReviews(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, "list reviews", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sum)
}

// MyReviews возвращает отзывы, полученные вызывающим.
func (h *Handler) MyReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	sum, err := h.service.MyReviews(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, "my reviews", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sum)
}
