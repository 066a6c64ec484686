package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/warmconnects/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Metrics(h.metrics))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/user/{id}", h.ListUserReviews)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/create", h.CreateReview)
				r.Get("/my-reviews", h.MyReviews)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/user/close", h.CloseAccount)

			r.Route("/services", func(r chi.Router) {
				r.Post("/", h.CreateListing)
				r.Get("/seller/my-services", h.ListSellerListings)
				r.Get("/{id}", h.GetListing)
				r.Put("/{id}", h.UpdateListing)
				r.Delete("/{id}", h.DeactivateListing)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/create", h.CreateOrder)
				r.Get("/buyer", h.ListBuyerOrders())
				r.Get("/seller", h.ListSellerOrders())
				r.Get("/number/{number}", h.GetOrderByNumber)
				r.Get("/{id}", h.GetOrder)
				r.Post("/{id}/accept", h.AcceptOrder())
				r.Post("/{id}/decline", h.DeclineOrder())
				r.Post("/{id}/cancel", h.CancelOrder())
				r.Post("/{id}/deliver", h.DeliverOrder())
				r.Post("/{id}/approve", h.ApproveOrder())
				r.Post("/{id}/request-revision", h.RequestRevision())
			})

			r.Route("/disputes", func(r chi.Router) {
				r.Post("/create", h.OpenDispute)
				r.Get("/user", h.ListDisputes)
				r.Get("/{id}", h.GetDispute)
				r.Post("/{id}/respond", h.RespondDispute)
				r.Post("/{id}/resolve", h.ResolveDispute)
			})

			r.Route("/wallet", func(r chi.Router) {
				r.Post("/purchase-credits", h.PurchaseCredits)
				r.Post("/withdraw", h.Withdraw)
				r.Get("/balance", h.GetBalance)
				r.Get("/transactions", h.GetTransactions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
