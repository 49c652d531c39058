package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics exposes queue depth and judged-job counters at /metrics,
// complementing MetricsService's Redis-backed human-facing admin
// overview with a scrape target for Prometheus.
type PromMetrics struct {
	QueueDepth     *prometheus.GaugeVec
	JobsProcessed  *prometheus.CounterVec
	VerdictCounter *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
}

// NewPromMetrics registers the collectors against reg. Pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry()
// in tests.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "judge_queue_depth",
			Help: "Number of jobs waiting in a language queue.",
		}, []string{"language"}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_jobs_processed_total",
			Help: "Total number of jobs a worker has finished processing.",
		}, []string{"language"}),
		VerdictCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_verdicts_total",
			Help: "Total verdicts produced, partitioned by final status.",
		}, []string{"language", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_job_duration_seconds",
			Help:    "Wall-clock time spent executing one job end to end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"language"}),
	}
}

// Observe records one finished job's outcome.
func (m *PromMetrics) Observe(language string, status Status, seconds float64) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(language).Inc()
	m.VerdictCounter.WithLabelValues(language, string(status)).Inc()
	m.JobDuration.WithLabelValues(language).Observe(seconds)
}
