// Package metrics exposes the webhook's Prometheus counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tesoro"

// Recorder holds the process-wide counters. It is constructed once and
// shared by every request; all methods are safe for concurrent use.
type Recorder struct {
	Requests             prometheus.Counter
	RequestsFailed       prometheus.Counter
	RevealRequests       prometheus.Counter
	RevealRequestsFailed prometheus.Counter
	RevealRetries        prometheus.Counter
	RevealDuration       prometheus.Histogram
}

// NewRecorder creates the counters and registers them on reg. A nil reg
// leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Admission requests received.",
		}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Admission requests that could not be parsed or processed.",
		}),
		RevealRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_requests_total",
			Help:      "Eligible admission requests that entered the reveal pipeline.",
		}),
		RevealRequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_requests_failed_total",
			Help:      "Eligible admission requests denied because reveal failed.",
		}),
		RevealRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_retries_total",
			Help:      "Failed reveal attempts.",
		}),
		RevealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reveal_duration_seconds",
			Help:      "Time spent revealing a document, including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(r.collectors()...)
	}
	return r
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.Requests,
		r.RequestsFailed,
		r.RevealRequests,
		r.RevealRequestsFailed,
		r.RevealRetries,
		r.RevealDuration,
	}
}

// ObserveReveal records how long a reveal took.
func (r *Recorder) ObserveReveal(d time.Duration) {
	r.RevealDuration.Observe(d.Seconds())
}

// RetryHook returns a function suitable for reveal.WithRetryHook.
func (r *Recorder) RetryHook() func(attempt int, err error) {
	return func(int, error) {
		r.RevealRetries.Inc()
	}
}
