package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/daloamarket/backend/internal/handlers"
	"github.com/daloamarket/backend/internal/middleware"
)

// Deps carries the handlers and guards the router mounts.
type Deps struct {
	Payments *handlers.PaymentHandler
	Listings *handlers.ListingHandler
	Credits  *handlers.CreditHandler
	Admin    *handlers.AdminHandler

	Tokens          middleware.TokenValidator
	OperatorKeyHash string
	RateLimiter     *middleware.RateLimiter
	AllowedOrigins  []string
}

// New returns the HTTP handler serving the API under /api/v1.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// The provider calls back cross-origin, so the callback gets its own
	// permissive CORS policy and answers preflight itself.
	callbackCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	appCORS := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.OperatorKeyHeader},
		AllowCredentials: true,
	})

	// The provider's callback is never throttled: its contract is 200, 400 or 500.
	limit := func(next http.Handler) http.Handler {
		if d.RateLimiter == nil {
			return next
		}
		return d.RateLimiter.Handler(next)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(callbackCORS.Handler)
			r.Post("/payments/callback", d.Payments.Callback)
			r.Options("/payments/callback", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(appCORS.Handler)
			r.Use(limit)
			r.Use(middleware.UserAuth(d.Tokens))

			r.Post("/payments/invoices", d.Payments.CreateInvoice)
			r.Get("/payments/transactions", d.Payments.ListTransactions)
			r.Get("/payments/transactions/{token}", d.Payments.GetTransaction)

			r.Post("/listings", d.Listings.Create)
			r.Post("/listings/{id}/publish", d.Listings.Publish)
			r.Post("/listings/{id}/sold", d.Listings.MarkSold)
			r.Delete("/listings/{id}", d.Listings.Delete)

			r.Get("/credits", d.Credits.Get)
			r.Post("/credits/requests", d.Credits.Request)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(appCORS.Handler)
			r.Use(limit)
			r.Use(middleware.OperatorKeyAuth(d.OperatorKeyHash))

			r.Get("/fulfillment-issues", d.Admin.ListIssues)
			r.Post("/fulfillment-issues/{id}/resolve", d.Admin.ResolveIssue)
			r.Post("/credits", d.Admin.GrantCredits)
		})
	})
	return r
}
