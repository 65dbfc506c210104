package registry

import (
	"time"

	"meshgate/pkg/models"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultRetryBackoff        = 5 * time.Second
)

// ProbeObserver receives health check outcomes, e.g. for metrics.
type ProbeObserver interface {
	ObserveProbe(service string, status models.ServiceStatus, latency time.Duration)
	ObserveRegistry(total, healthy int)
	ForgetService(service string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithInterval sets the delay between health check cycles.
func WithInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithProbeTimeout bounds every single health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithRetryBackoff sets how long the loop waits after a failed cycle.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retryBackoff = d
		}
	}
}

// WithObserver registers an observer for probe results.
func WithObserver(o ProbeObserver) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type noopObserver struct{}

func (noopObserver) ObserveProbe(string, models.ServiceStatus, time.Duration) {}
func (noopObserver) ObserveRegistry(int, int)                                 {}
func (noopObserver) ForgetService(string)                                     {}
