package redlock

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-redlock/v1/metrics"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

const (
	DefaultPrefix      = "redLock:"
	DefaultRetryCount  = 3
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultDriftFactor = 0.01
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPrefix sets the namespace prepended to every resource name.
func WithPrefix(prefix string) Option {
	return func(c *Coordinator) {
		c.prefix = prefix
	}
}

// WithRetryCount sets how many extra rounds Acquire runs after the first one.
func WithRetryCount(n int) Option {
	return func(c *Coordinator) {
		c.retryCount = n
	}
}

// WithRetryDelay sets the upper bound of the randomized pause between rounds.
// The actual pause is drawn uniformly from [d/2, d].
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.retryDelay = d
	}
}

// WithDriftFactor sets the fraction of the ttl reserved for clock drift
// between nodes.
func WithDriftFactor(f float64) Option {
	return func(c *Coordinator) {
		c.driftFactor = f
	}
}

// WithBus publishes lock events on bus and lets AcquireWait wake up as soon as
// a resource is released.
func WithBus(bus syncbus.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metrics = metrics.RegisterLockMetrics(reg)
	}
}

// WithLogger sets the logger used for node failures. slog.Default is used
// otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithID sets the owner id attached to published events.
func WithID(id string) Option {
	return func(c *Coordinator) {
		c.id = id
	}
}

// AcquireOption tunes a single Acquire call.
type AcquireOption func(*acquireOptions)

type acquireOptions struct {
	retry int
}

// WithRetry overrides the coordinator retry count for one call.
func WithRetry(n int) AcquireOption {
	return func(o *acquireOptions) {
		o.retry = n
	}
}
