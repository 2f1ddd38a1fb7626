package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
)

const (
	OutcomeInitiated = "initiated"
	OutcomeUnknown   = "unknown"
)

// PaymentMetrics counts payment lifecycle events and HTTP traffic.
type PaymentMetrics struct {
	registry *prometheus.Registry

	initiations  *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	replays      prometheus.Counter
	mismatches   prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment collectors on a private registry together
// with the Go runtime and process collectors.
func NewPaymentMetrics(environment string) *PaymentMetrics {
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": "fitcoach_payments",
		"env":     environment,
	}

	m := &PaymentMetrics{
		registry: prometheus.NewRegistry(),
		initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fitcoach_payment_initiations_total",
			Help:        "STK push initiations by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fitcoach_payment_resolutions_total",
			Help:        "Payments moved to a terminal state by callback.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fitcoach_payment_callback_replays_total",
			Help:        "Callbacks received for payments that were already terminal.",
			ConstLabels: constLabels,
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fitcoach_payment_settlement_mismatches_total",
			Help:        "Successful payments whose settled amount differed from the requested amount.",
			ConstLabels: constLabels,
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fitcoach_http_request_duration_seconds",
			Help:        "HTTP request latency by route and status.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.initiations,
		m.resolutions,
		m.replays,
		m.mismatches,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PaymentMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PaymentMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PaymentMetrics) HandleEvent(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.PaymentInitiatedEvent:
		m.initiations.WithLabelValues(OutcomeInitiated).Inc()
	case *events.PaymentInitiationFailedEvent:
		outcome := strings.ToLower(e.Kind)
		if outcome == "" {
			outcome = OutcomeUnknown
		}
		m.initiations.WithLabelValues(outcome).Inc()
	case *events.PaymentSucceededEvent:
		m.resolutions.WithLabelValues("succeeded").Inc()
	case *events.PaymentFailedEvent:
		m.resolutions.WithLabelValues("failed").Inc()
	case *events.CallbackReplayedEvent:
		m.replays.Inc()
	case *events.SettlementMismatchEvent:
		m.mismatches.Inc()
	}
	return nil
}

func (m *PaymentMetrics) RegisterEventHandlers(bus *events.EventBus) {
	for _, t := range []string{
		events.EventTypePaymentInitiated,
		events.EventTypePaymentInitiationFailed,
		events.EventTypePaymentSucceeded,
		events.EventTypePaymentFailed,
		events.EventTypeCallbackReplayed,
		events.EventTypeSettlementMismatch,
	} {
		bus.Subscribe(t, m.HandleEvent)
	}
}

// Middleware records request latency labelled by the matched chi route pattern.
func (m *PaymentMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
