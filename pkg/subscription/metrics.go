package subscription

import (
	"time"

	"github.com/dmitrymomot/tierkeep/pkg/metrics"
)

func providerErrors(provider, kind string) {
	metrics.ProviderErrorsTotal.WithLabelValues(provider, kind).Inc()
}

func unknownMappings(provider string) {
	metrics.UnknownProductMappings.WithLabelValues(provider).Inc()
}

func checkoutOutcome(stage, outcome string) {
	metrics.CheckoutsTotal.WithLabelValues(stage, outcome).Inc()
}

func trialOutcome(source, outcome string) {
	metrics.TrialsTotal.WithLabelValues(source, outcome).Inc()
}

func duplicatesCancelled(stage string, n int) {
	if n > 0 {
		metrics.DuplicateSubscriptionsCancelled.WithLabelValues(stage).Add(float64(n))
	}
}

func reconcileOutcome(provider, outcome string) {
	metrics.ReconcileTotal.WithLabelValues(provider, outcome).Inc()
}

func webhookOutcome(eventType EventType, outcome string, started time.Time) {
	metrics.WebhookEventsTotal.WithLabelValues(string(eventType), outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(string(eventType)).Observe(time.Since(started).Seconds())
}

func sweepAction(action string) {
	metrics.SweepActionsTotal.WithLabelValues(action).Inc()
}

func sweepRun(outcome string, started time.Time) {
	metrics.SweepRunsTotal.WithLabelValues(outcome).Inc()
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
}
