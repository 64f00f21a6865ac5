package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the job queue and worker.
type Metrics struct {
	QueueDepth   prometheus.Gauge
	JobsEnqueued *prometheus.CounterVec
	JobsDone     *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec

	registered bool
}

// NewMetrics creates and registers all queue metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verification_queue_depth",
				Help: "Number of jobs waiting on the verification queue",
			},
		),
		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_jobs_enqueued_total",
				Help: "Total jobs enqueued, by function",
			},
			[]string{"function"},
		),
		JobsDone: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_jobs_done_total",
				Help: "Total jobs finished, by function and outcome",
			},
			[]string{"function", "outcome"}, // outcome: complete, failed, aborted
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verification_job_duration_seconds",
				Help:    "Wall-clock duration of one job run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"function"},
		),
		registered: true,
	}
}

// NopMetrics returns a metrics sink that records nothing. Used when
// the caller does not care about metrics (tests, one-off tools).
func NopMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) RecordEnqueued(function string) {
	if !m.registered {
		return
	}
	m.JobsEnqueued.WithLabelValues(function).Inc()
}

func (m *Metrics) RecordDone(function, outcome string, seconds float64) {
	if !m.registered {
		return
	}
	m.JobsDone.WithLabelValues(function, outcome).Inc()
	m.JobDuration.WithLabelValues(function).Observe(seconds)
}

func (m *Metrics) SetQueueDepth(depth float64) {
	if !m.registered || depth < 0 {
		return
	}
	m.QueueDepth.Set(depth)
}
