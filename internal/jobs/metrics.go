// Package jobmetrics instruments event deliveries and scheduled jobs. Every
// subscription name and task type is a "job" label value.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	ReasonPermanent = "permanent"
	ReasonExhausted = "exhausted"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on registerer, or on a private
// registry when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_jobs_total",
			Help: "Job runs and event deliveries by job and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_jobs_failures_total",
			Help: "Failed job runs and event deliveries.",
		}, []string{"job"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_events_duplicates_total",
			Help: "Redelivered events skipped because the subscription already processed them.",
		}, []string{"job"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_events_dropped_total",
			Help: "Events abandoned after a permanent failure or exhausted retries.",
		}, []string{"job", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agora_job_duration_seconds",
			Help:    "Duration of job runs and event deliveries.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duplicates, m.dropped, m.duration)
	return m
}

// Tracker times one run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Duplicate counts a redelivery skipped by dedup.
func (m *Metrics) Duplicate(job string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(job).Inc()
}

// Drop counts an event given up on by job. reason is ReasonPermanent or
// ReasonExhausted.
func (m *Metrics) Drop(job, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(job, reason).Inc()
}
