package usecases

import (
	"time"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/metrics"
	"github.com/zapp/backend/internal/shared"
)

type options struct {
	clock          shared.Clock
	metrics        *metrics.EngineMetrics
	publisher      ports.EventPublisher
	rates          ports.RateSource
	groupWindow    time.Duration
	sweepBatchSize int
}

// Option configures the engine services.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(clock shared.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPublisher sets where lifecycle events go once persisted.
func WithPublisher(p ports.EventPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithRateSource sets the fallback used when a request carries no base exchange rate.
func WithRateSource(r ports.RateSource) Option {
	return func(o *options) {
		o.rates = r
	}
}

// WithGroupWindow sets how long a new merchant group stays reserved for its target.
func WithGroupWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.groupWindow = d
		}
	}
}

// WithSweepBatchSize bounds how many groups one sweep pass handles.
func WithSweepBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepBatchSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:          shared.SystemClock,
		groupWindow:    ports.DefaultGroupWindow,
		sweepBatchSize: ports.DefaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
