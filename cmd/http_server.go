package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
	"github.com/frahmantamala/fitcoach-payments/internal/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/observability/metrics"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/transport"
	"github.com/frahmantamala/fitcoach-payments/internal/transport/rest"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that initiates payments, receives M-Pesa callbacks and serves status`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	Store      payment.Store
	CloseStore func() error
	EventBus   *events.EventBus
	Metrics    *metrics.PaymentMetrics
	Router     *chi.Mux
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server",
		"address", addr,
		"store", deps.Config.Store.Driver,
		"mpesa_base_url", deps.Config.Mpesa.ResolveBaseURL())

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.EventBus.Wait(ctx); err != nil {
			deps.Logger.Warn("Event handlers still running at shutdown", "error", err)
		}
		if err := deps.CloseStore(); err != nil {
			deps.Logger.Error("Store close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	clk := clock.Real()
	provider := mpesa.NewClient(deps.Config.Mpesa, clk, deps.Logger)
	service := payment.NewService(deps.Store, provider, deps.EventBus, clk, deps.Logger)

	base := transport.NewBaseHandler(deps.Logger)
	routes := rest.Routes{
		Payment:        payment.NewHandler(base, service, deps.Logger),
		Webhook:        payment.NewWebhookHandler(base, service, deps.Logger),
		Health:         rest.NewHealthHandler(map[string]rest.Pinger{deps.Config.Store.Driver: deps.Store}),
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
	}
	if deps.Metrics != nil {
		routes.Metrics = deps.Metrics.Handler()
		routes.MetricsPath = deps.Config.Observability.Metrics.Path
		routes.Instrument = deps.Metrics.Middleware
	}

	rest.RegisterAllRoutes(deps.Router, routes, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.LoggerWrapper()

	store, closeStore, err := openStore(config, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment store: %w", err)
	}

	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(lg).RegisterEventHandlers(eventBus)

	var paymentMetrics *metrics.PaymentMetrics
	if config.Observability.Metrics.Enabled {
		paymentMetrics = metrics.NewPaymentMetrics(config.Env)
		paymentMetrics.RegisterEventHandlers(eventBus)
	}

	return &Dependencies{
		Config:     config,
		Store:      store,
		CloseStore: closeStore,
		EventBus:   eventBus,
		Metrics:    paymentMetrics,
		Router:     chi.NewRouter(),
		Logger:     lg,
	}, nil
}
