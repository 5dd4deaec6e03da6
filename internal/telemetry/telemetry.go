package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signal names are part of the engine's observable contract; tests and
// dashboards key on them.
const (
	SignalSkippingAlreadyProcessed       = "skipping_already_processed_update"
	SignalSkippingInvalidConditionGroup  = "skipping_invalid_condition_group"
	SignalDuplicateGroupKeys             = "duplicate_group_keys"
	SignalMalformedPacket                = "malformed_packet"
	SignalStateCacheDegraded             = "state_cache_degraded"
)

// Recorder counts named engine signals.
type Recorder interface {
	Incr(signal string)
}

// PrometheusRecorder exposes signals as a labelled counter on the
// worker's /metrics endpoint.
type PrometheusRecorder struct {
	signals *prometheus.CounterVec
}

func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		signals: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "detector",
			Name:      "signals_total",
			Help:      "Engine signal counts by signal name.",
		}, []string{"signal"}),
	}
}

func (r *PrometheusRecorder) Incr(signal string) {
	r.signals.WithLabelValues(signal).Inc()
}

// CaptureRecorder records signal counts in memory for tests.
type CaptureRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCaptureRecorder() *CaptureRecorder {
	return &CaptureRecorder{counts: map[string]int{}}
}

func (r *CaptureRecorder) Incr(signal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[signal]++
}

func (r *CaptureRecorder) Count(signal string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[signal]
}
