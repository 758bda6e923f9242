package framesync

import (
	"github.com/rs/zerolog"

	"depthview-go/internal/metrics"
	"depthview-go/internal/processing"
)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger.With().Str("component", "framesync").Logger()
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithMask sets the initial state of the unmapped-pixel color mask.
func WithMask(enabled bool) Option {
	return func(s *Synchronizer) {
		s.mask.Store(enabled)
	}
}

func WithOverflowPolicy(policy processing.OverflowPolicy) Option {
	return func(s *Synchronizer) {
		s.overflow = policy
	}
}

// WithReliableRange overrides the per-frame reliable depth bounds. A zero
// bound keeps the value reported by the sensor.
func WithReliableRange(minMM, maxMM uint16) Option {
	return func(s *Synchronizer) {
		s.minOverride = minMM
		s.maxOverride = maxMM
	}
}
