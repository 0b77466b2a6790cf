// Package metrics declares the Prometheus collectors exported by tierkeep.
// Collectors are registered with the default registry on import.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "tierkeep"
	subsystem = "entitlement"
)

var (
	// WebhookEventsTotal counts gateway webhook events by normalized type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "webhook_events_total",
		Help:      "Gateway webhook events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "webhook_duration_seconds",
		Help:      "Gateway webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SweepRunsTotal counts downgrade sweep runs by outcome.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sweep_runs_total",
		Help:      "Downgrade sweep runs by outcome.",
	}, []string{"outcome"})

	// SweepActionsTotal counts per-record sweep decisions.
	SweepActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sweep_actions_total",
		Help:      "Records touched by the downgrade sweep by action.",
	}, []string{"action"})

	// SweepDuration tracks sweep run latency.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sweep_duration_seconds",
		Help:      "Downgrade sweep duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// ReconcileTotal counts reconciliation attempts by provider and outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reconcile_total",
		Help:      "Reconciliation attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// CheckoutsTotal counts checkout starts and verifications.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "checkouts_total",
		Help:      "Checkout operations by stage and outcome.",
	}, []string{"stage", "outcome"})

	// TrialsTotal counts trial starts by source and outcome.
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "trials_total",
		Help:      "Trial ledger commits by source and outcome.",
	}, []string{"source", "outcome"})

	// DuplicateSubscriptionsCancelled counts gateway subscriptions cancelled as duplicates.
	DuplicateSubscriptionsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "duplicate_subscriptions_cancelled_total",
		Help:      "Gateway subscriptions cancelled to keep one live subscription per customer.",
	}, []string{"stage"})

	// UnknownProductMappings counts provider references that resolved to no tier.
	UnknownProductMappings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "unknown_product_mappings_total",
		Help:      "Provider price or product references that matched no plan.",
	}, []string{"provider"})

	// ProviderErrorsTotal counts classified provider failures.
	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "provider_errors_total",
		Help:      "Provider call failures by provider and kind.",
	}, []string{"provider", "kind"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)

		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
