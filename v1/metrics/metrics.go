package metrics

import "github.com/prometheus/client_golang/prometheus"

// Acquire outcomes used as the "result" label of redlock_acquire_total.
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultRejected  = "rejected"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
)

// Collectors holds the metrics a lock coordinator reports.
type Collectors struct {
	// Acquire counts finished Acquire calls by result.
	Acquire *prometheus.CounterVec
	// Release counts Release calls that reached the nodes.
	Release prometheus.Counter
	// NodeErrors counts failed node calls by node and operation.
	NodeErrors *prometheus.CounterVec
	// AcquireDuration observes the wall time of whole Acquire calls.
	AcquireDuration prometheus.Histogram
	// Attempts observes how many rounds an Acquire call needed.
	Attempts prometheus.Histogram
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics creates the coordinator metrics and registers them on
// reg. Registering twice on the same registry panics.
func RegisterLockMetrics(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Acquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redlock_acquire_total",
			Help: "Total number of Acquire calls by result",
		}, []string{"result"}),
		Release: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redlock_release_total",
			Help: "Total number of lock releases",
		}),
		NodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redlock_node_errors_total",
			Help: "Total number of failed storage node calls",
		}, []string{"node", "op"}),
		AcquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "redlock_acquire_duration_seconds",
			Help:    "Duration of Acquire calls including retries",
			Buckets: prometheus.DefBuckets,
		}),
		Attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "redlock_attempts",
			Help:    "Number of quorum rounds used by Acquire calls",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
	}
	reg.MustRegister(c.Acquire, c.Release, c.NodeErrors, c.AcquireDuration, c.Attempts)
	return c
}
