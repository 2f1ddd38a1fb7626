package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/transport/middleware"
	"github.com/frahmantamala/fitcoach-payments/internal/transport/swagger"
)

// Routes bundles everything the HTTP surface serves. Nil handlers are skipped.
type Routes struct {
	Payment        *payment.Handler
	Webhook        *payment.WebhookHandler
	Health         *HealthHandler
	Metrics        http.Handler
	MetricsPath    string
	Instrument     func(http.Handler) http.Handler
	AllowedOrigins string
	OpenAPIPath    string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	if routes.Instrument != nil {
		router.Use(routes.Instrument)
	}
	router.Use(middleware.LoggingMiddleware(logger))

	openAPIPath := routes.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	if routes.Health != nil {
		router.Get("/health", routes.Health.healthCheckHandler)
		router.Get("/ping", routes.Health.pingHandler)
	}

	if routes.Metrics != nil {
		path := routes.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, routes.Metrics)
	}

	mountPayments := func(r chi.Router) {
		if routes.Payment != nil {
			r.Post("/initiate", routes.Payment.Initiate)
			r.Get("/status/{correlationId}", routes.Payment.GetStatus)
		}
		if routes.Webhook != nil {
			r.Post("/callback", routes.Webhook.HandlePaymentCallback)
		}
	}

	router.Route("/payment", mountPayments)
	// paths used by the existing web checkout
	router.Route("/api/mpesa", mountPayments)
}
