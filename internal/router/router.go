package router

import (
	"context"
	"net/http"
	"time"

	"digistore/internal/handler"
	"digistore/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookPath receives gateway callbacks. It is authenticated by the gateway's signature, not the API key.
const WebhookPath = "/api/payments/webhook"

// Handlers groups the API handlers mounted by New.
type Handlers struct {
	Catalog  *handler.CatalogHandler
	Checkout *handler.CheckoutHandler
	Orders   *handler.OrderHandler
	Download *handler.DownloadHandler
	Webhook  *handler.WebhookHandler
}

// Options configures the ops endpoints and cross-cutting middleware.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	HTTPMetrics    *middleware.HTTPMetrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// Files serves locally signed download URLs under /files when set.
	Files http.Handler
	// HealthCheck is consulted by /health when set.
	HealthCheck func(ctx context.Context) error
}

// New creates a new HTTP router with all routes and middleware configured.
func New(h Handlers, opts Options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Apply middleware in order: Recovery -> RequestID -> Logging -> CORS -> APIKeyAuth -> Identity
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS)
	r.Use(middleware.APIKeyAuth(opts.APIKey, logger, WebhookPath))
	r.Use(middleware.Identity)
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}

	// Health check endpoint (no authentication required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.HealthCheck != nil {
			if err := opts.HealthCheck(r.Context()); err != nil {
				logger.Error().Err(err).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	if opts.Files != nil {
		r.Mount("/files", http.StripPrefix("/files", opts.Files))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}

		r.Get("/products", h.Catalog.List)
		r.Get("/products/{id}", h.Catalog.GetByID)

		r.Post("/pricing", h.Checkout.Price)
		r.Post("/discounts/validate", h.Checkout.ValidateDiscount)
		r.Post("/checkout", h.Checkout.Submit)

		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", h.Orders.GetByID)
			r.Get("/status", h.Orders.Status)
			r.Post("/session", h.Orders.CreateSession)
			r.Get("/items/{index}/download", h.Download.Authorize)
		})

		r.Post("/payments/webhook", h.Webhook.Handle)
	})

	return otelhttp.NewHandler(r, "digistore-api")
}
