// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/metrics"
	"github.com/mmeshcher/warmconnects/internal/middleware"
	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/pagination"
	"github.com/mmeshcher/warmconnects/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	RegisterUser(ctx context.Context, login, password string, caps model.Capabilities) (model.Identity, error)
	AuthenticateUser(ctx context.Context, login, password string) (model.Identity, error)

	CloseAccount(ctx context.Context, id model.Identity) error

	CreateListing(ctx context.Context, id model.Identity, title string, price model.Money) (*model.Listing, error)
	GetListing(ctx context.Context, listingID uuid.UUID) (*model.Listing, error)
	UpdateListing(ctx context.Context, id model.Identity, listingID uuid.UUID, p service.ListingPatch) (*model.Listing, error)
	DeactivateListing(ctx context.Context, id model.Identity, listingID uuid.UUID) (*model.Listing, error)
	ListSellerListings(ctx context.Context, id model.Identity) ([]model.Listing, error)

	CreateOrder(ctx context.Context, id model.Identity, listingID uuid.UUID, quantity int) (*model.Order, error)
	Accept(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error)
	Decline(ctx context.Context, id model.Identity, orderID uuid.UUID, reason string) (*model.Order, error)
	Cancel(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error)
	Deliver(ctx context.Context, id model.Identity, orderID uuid.UUID, deliverable string) (*model.Order, error)
	Approve(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error)
	RequestRevision(ctx context.Context, id model.Identity, orderID uuid.UUID, note string) (*model.Order, error)
	GetOrder(ctx context.Context, id model.Identity, orderID uuid.UUID) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, id model.Identity, number string) (*model.Order, error)
	ListBuyerOrders(ctx context.Context, id model.Identity, status, cursor string, limit int) (*service.OrderPage, error)
	ListSellerOrders(ctx context.Context, id model.Identity, status, cursor string, limit int) (*service.OrderPage, error)

	OpenDispute(ctx context.Context, id model.Identity, orderID uuid.UUID, reason string) (*model.Dispute, error)
	RespondDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID, response string) (*model.Dispute, error)
	ResolveDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID, outcome model.Outcome) (*model.Dispute, error)
	GetDispute(ctx context.Context, id model.Identity, disputeID uuid.UUID) (*model.Dispute, error)
	ListDisputes(ctx context.Context, id model.Identity, limit int) ([]model.Dispute, error)

	PurchaseCredits(ctx context.Context, id model.Identity, amount model.Money) ([]model.LedgerEntry, error)
	Withdraw(ctx context.Context, id model.Identity, amount model.Money) (*model.LedgerEntry, error)
	GetBalance(ctx context.Context, id model.Identity) (model.Balances, error)
	GetTransactions(ctx context.Context, id model.Identity, limit int) ([]model.LedgerEntry, error)

	CreateReview(ctx context.Context, id model.Identity, d service.ReviewDraft) (*model.Review, error)
	ListUserReviews(ctx context.Context, userID int64, limit int) (*service.ReviewSummary, error)
	MyReviews(ctx context.Context, id model.Identity, limit int) (*service.ReviewSummary, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
	}
}

// statusFor переводит ошибку бизнес-логики в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorizedActor):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrOrderClosed),
		errors.Is(err, model.ErrInvalidHoldState),
		errors.Is(err, model.ErrDisputeAlreadyResolved),
		errors.Is(err, model.ErrAlreadyResponded),
		errors.Is(err, model.ErrInvalidOrderState),
		errors.Is(err, model.ErrDisputeExists),
		errors.Is(err, model.ErrRevisionLimit),
		errors.Is(err, model.ErrUserExists),
		errors.Is(err, model.ErrListingInactive),
		errors.Is(err, model.ErrReviewExists),
		errors.Is(err, model.ErrDuplicateNumber),
		errors.Is(err, model.ErrAccountBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidOutcome),
		errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отвечает клиенту статусом, соответствующим ошибке. Внутренние ошибки логируются
// и не раскрываются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "malformed "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		http.Error(w, "malformed limit", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

// Healthz проверяет доступность хранилища.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
