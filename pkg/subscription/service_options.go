package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithStoreVerifier enables platform store purchases.
func WithStoreVerifier(v StoreVerifier) ServiceOption {
	return func(s *service) {
		if v != nil {
			s.storeVerifier = v
		}
	}
}

// WithEventDeduper skips webhook events that were already processed.
func WithEventDeduper(d EventDeduper) ServiceOption {
	return func(s *service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithConfig applies engine timings and callback URLs.
// Zero durations keep their defaults.
func WithConfig(cfg Config) ServiceOption {
	return func(s *service) {
		if cfg.SweepInterval > 0 {
			s.cfg.SweepInterval = cfg.SweepInterval
		}
		if cfg.GracePeriod > 0 {
			s.cfg.GracePeriod = cfg.GracePeriod
		}
		if cfg.TrialLength > 0 {
			s.cfg.TrialLength = cfg.TrialLength
		}
		if cfg.SweepBatchSize > 0 {
			s.cfg.SweepBatchSize = cfg.SweepBatchSize
		}
		s.cfg.ReconcileCooldown = cfg.ReconcileCooldown
		s.cfg.SuccessURL = cfg.SuccessURL
		s.cfg.CancelURL = cfg.CancelURL
	}
}

// WithTierStrategies replaces the gateway tier resolution chain.
func WithTierStrategies(strategies ...TierStrategy) ServiceOption {
	return func(s *service) {
		if len(strategies) > 0 {
			s.strategies = strategies
		}
	}
}
