package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthorizationDecisions *prometheus.CounterVec
	AccessCacheLookups     *prometheus.CounterVec

	// Subscription metrics
	SubscriptionTransitions *prometheus.CounterVec
	ChargesTotal            *prometheus.CounterVec
	ChargeDuration          prometheus.Histogram
	NotificationsTotal      *prometheus.CounterVec
	WebhookEventsTotal      *prometheus.CounterVec

	// Scheduler metrics
	SweepRunsTotal      *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	SweepProcessedTotal *prometheus.CounterVec
	SweepLastSuccess    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasknest_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthorizationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_authorization_decisions_total",
				Help: "Board authorization decisions by required role and outcome",
			},
			[]string{"required_role", "outcome"},
		),
		AccessCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_access_cache_lookups_total",
				Help: "Board access cache lookups by result",
			},
			[]string{"result"},
		),

		SubscriptionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_subscription_transitions_total",
				Help: "Subscription status transitions",
			},
			[]string{"from", "to"},
		),
		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_charges_total",
				Help: "Recurring charge attempts by outcome",
			},
			[]string{"outcome"},
		),
		ChargeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tasknest_charge_duration_seconds",
				Help:    "Payment gateway charge latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_notifications_total",
				Help: "Best-effort notifications by kind and delivery result",
			},
			[]string{"kind", "delivered"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_webhook_events_total",
				Help: "Payment webhook events by type and result",
			},
			[]string{"event", "result"},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_billing_sweep_runs_total",
				Help: "Billing sweep firings by outcome",
			},
			[]string{"outcome"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasknest_billing_sweep_duration_seconds",
				Help:    "Billing sweep phase duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"phase"},
		),
		SweepProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasknest_billing_sweep_processed_total",
				Help: "Subscriptions processed by sweep phase and result",
			},
			[]string{"phase", "result"},
		),
		SweepLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tasknest_billing_sweep_last_success_timestamp_seconds",
				Help: "Unix time of the last completed billing sweep",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthorizationDecisions,
		m.AccessCacheLookups,
		m.SubscriptionTransitions,
		m.ChargesTotal,
		m.ChargeDuration,
		m.NotificationsTotal,
		m.WebhookEventsTotal,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepProcessedTotal,
		m.SweepLastSuccess,
	)

	return m
}

// NewNopMetrics returns metrics registered against a throwaway registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The route label is the mux path template so board and user IDs do not
// explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
