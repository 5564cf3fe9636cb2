// Package telemetry instruments the tree engines with Prometheus metrics,
// following the counter/histogram conventions common to request/duration
// instrumentation in Go services.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the instrumentation surface consumed by pkg/merkle and
// pkg/merkle/flatstore. A nil *Recorder is valid and records nothing, so
// callers that don't care about metrics can omit it entirely.
type Recorder struct {
	buildDuration  prometheus.Histogram
	updateDuration prometheus.Histogram
	stemsTouched   prometheus.Histogram
	proofRequests  *prometheus.CounterVec
}

// New registers the engine's metrics under namespace on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler, or a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer, namespace string) *Recorder {
	r := &Recorder{
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time spent in a bulk Build call.",
			Buckets:   prometheus.DefBuckets,
		}),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Wall time spent applying an incremental Update batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		stemsTouched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_stems_touched",
			Help:      "Distinct stems rehashed by an Update batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		proofRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_requests_total",
			Help:      "Prove() calls, labeled by whether the key was bound.",
		}, []string{"found"}),
	}
	reg.MustRegister(r.buildDuration, r.updateDuration, r.stemsTouched, r.proofRequests)
	return r
}

// ObserveBuild records the wall time of a completed Build call.
func (r *Recorder) ObserveBuild(d time.Duration) {
	if r == nil {
		return
	}
	r.buildDuration.Observe(d.Seconds())
}

// ObserveUpdate records the wall time and stem fan-out of a completed
// Update batch.
func (r *Recorder) ObserveUpdate(d time.Duration, stemsTouched int) {
	if r == nil {
		return
	}
	r.updateDuration.Observe(d.Seconds())
	r.stemsTouched.Observe(float64(stemsTouched))
}

// ObserveProve records whether a Prove call found a bound key.
func (r *Recorder) ObserveProve(found bool) {
	if r == nil {
		return
	}
	label := "false"
	if found {
		label = "true"
	}
	r.proofRequests.WithLabelValues(label).Inc()
}
