package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the job queue's Prometheus collectors.
type Metrics struct {
	submitted *prometheus.CounterVec
	settled   *prometheus.CounterVec
	wait      *prometheus.HistogramVec
	duration  *prometheus.HistogramVec
	queued    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trail_jobs_submitted_total",
			Help: "Jobs submitted by name",
		}, []string{"job"}),
		settled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trail_jobs_settled_total",
			Help: "Jobs settled by name and result code",
		}, []string{"job", "code"}),
		wait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trail_jobs_wait_seconds",
			Help:    "Time jobs spent queued before starting",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"job"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trail_jobs_duration_seconds",
			Help:    "Job run time",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"job"}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "trail_jobs_queued",
			Help: "Jobs waiting to start",
		}),
	}
}
