package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/service"
	"github.com/mmeshcher/warmconnects/internal/validation"
)

type createOrderRequest struct {
	ServiceID uuid.UUID `json:"service_id"`
	Quantity  int       `json:"quantity"`
}

type createOrderResponse struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Status      model.OrderStatus `json:"status"`
}

// CreateOrder оформляет заказ на услугу.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	o, err := h.service.CreateOrder(r.Context(), id, req.ServiceID, req.Quantity)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createOrderResponse{OrderID: o.ID, OrderNumber: o.Number, Status: o.Status})
}

type textRequest struct {
	Reason      string `json:"reason,omitempty"`
	Deliverable string `json:"deliverable,omitempty"`
	Note        string `json:"note,omitempty"`
}

type orderAction func(ctx context.Context, id model.Identity, orderID uuid.UUID, req textRequest) (*model.Order, error)

// orderTransition оборачивает действие над заказом: разбирает идентификатор и необязательное тело,
// отдаёт обновлённый заказ.
func (h *Handler) orderTransition(op string, action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		orderID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		// тело необязательно: accept, cancel и approve вызываются без него
		var req textRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		o, err := action(r.Context(), id, orderID, req)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}

		h.writeJSON(w, http.StatusOK, o)
	}
}

// AcceptOrder принимает заказ продавцом.
func (h *Handler) AcceptOrder() http.HandlerFunc {
	return h.orderTransition("accept order", func(ctx context.Context, id model.Identity, orderID uuid.UUID, _ textRequest) (*model.Order, error) {
		return h.service.Accept(ctx, id, orderID)
	})
}

// DeclineOrder отклоняет заказ продавцом.
func (h *Handler) DeclineOrder() http.HandlerFunc {
	return h.orderTransition("decline order", func(ctx context.Context, id model.Identity, orderID uuid.UUID, req textRequest) (*model.Order, error) {
		return h.service.Decline(ctx, id, orderID, req.Reason)
	})
}

// CancelOrder отменяет заказ покупателем.
func (h *Handler) CancelOrder() http.HandlerFunc {
	return h.orderTransition("cancel order", func(ctx context.Context, id model.Identity, orderID uuid.UUID, _ textRequest) (*model.Order, error) {
		return h.service.Cancel(ctx, id, orderID)
	})
}

// DeliverOrder сдаёт результат работы.
func (h *Handler) DeliverOrder() http.HandlerFunc {
	return h.orderTransition("deliver order", func(ctx context.Context, id model.Identity, orderID uuid.UUID, req textRequest) (*model.Order, error) {
		return h.service.Deliver(ctx, id, orderID, req.Deliverable)
	})
}

// ApproveOrder принимает результат покупателем.
func (h *Handler) ApproveOrder() http.HandlerFunc {
	return h.orderTransition("approve order", func(ctx context.Context, id model.Identity, orderID uuid.UUID, _ textRequest) (*model.Order, error) {
		return h.service.Approve(ctx, id, orderID)
	})
}

// RequestRevision возвращает заказ на доработку.
func (h *Handler) RequestRevision() http.HandlerFunc {
	return h.orderTransition("request revision", func(ctx context.Context, id model.Identity, orderID uuid.UUID, req textRequest) (*model.Order, error) {
		return h.service.RequestRevision(ctx, id, orderID, req.Note)
	})
}

// GetOrder возвращает заказ с историей статусов.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), id, orderID)
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

// GetOrderByNumber ищет заказ по номеру.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	number := chi.URLParam(r, "number")
	if !validation.IsValidOrderNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	o, err := h.service.GetOrderByNumber(r.Context(), id, number)
	if err != nil {
		h.writeError(w, r, "get order by number", err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

type listFunc func(ctx context.Context, id model.Identity, status, cursor string, limit int) (*service.OrderPage, error)

func (h *Handler) listOrders(op string, list listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		limit, ok := limitParam(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		page, err := list(r.Context(), id, q.Get("status"), q.Get("cursor"), limit)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}

		h.writeJSON(w, http.StatusOK, page)
	}
}

// ListBuyerOrders возвращает заказы текущего пользователя как покупателя.
func (h *Handler) ListBuyerOrders() http.HandlerFunc {
	return h.listOrders("list buyer orders", h.service.ListBuyerOrders)
}

// ListSellerOrders возвращает заказы текущего пользователя как продавца.
func (h *Handler) ListSellerOrders() http.HandlerFunc {
	return h.listOrders("list seller orders", h.service.ListSellerOrders)
}
