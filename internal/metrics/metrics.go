// Package metrics exposes Prometheus counters for the scrape job and pushes
// them to a Pushgateway when the job ends.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

// Option configures a Metrics.
type Option func(*Metrics)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry sets the registry metrics are registered on.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Metrics) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Metrics holds the job's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	attempts        prometheus.Counter
	managers        prometheus.Counter
	creators        prometheus.Counter
	enrichMisses    prometheus.Counter
	modalTimeouts   prometheus.Counter
	emitFailures    prometheus.Counter
	deadLettered    prometheus.Counter
	skippedCreators prometheus.Counter
	batchDuration   prometheus.Histogram
	enrichLatency   prometheus.Histogram
	lastSuccess     prometheus.Gauge
}

// New creates a Metrics on its own registry.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace: "backstage",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	counter := func(subsystem, name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m.attempts = counter("crawl", "attempts_total", "Crawl attempts started, including retries")
	m.managers = counter("crawl", "managers_total", "Manager units emitted")
	m.creators = counter("crawl", "creators_total", "Creator rows read from drill-down modals")
	m.enrichMisses = counter("crawl", "enrich_misses_total", "Profile lookups that timed out or failed to parse")
	m.modalTimeouts = counter("crawl", "modal_timeouts_total", "Drill-down modals that never opened")
	m.emitFailures = counter("crawl", "emit_failures_total", "Manager units the sink rejected")
	m.deadLettered = counter("ingest", "dead_lettered_total", "Manager units parked in the dead letter queue")
	m.skippedCreators = counter("ingest", "skipped_creators_total", "Creator entries skipped for missing name or id")

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one creator batch transaction",
		Buckets:   prometheus.DefBuckets,
	})
	m.enrichLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "crawl",
		Name:      "enrich_latency_seconds",
		Help:      "Time from hover to profile response",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
	})
	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that finished without exhausting retries",
	})
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Attempt counts one crawl attempt.
func (m *Metrics) Attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

// ManagerEmitted counts a manager unit handed to the sink.
func (m *Metrics) ManagerEmitted() {
	if m != nil {
		m.managers.Inc()
	}
}

// CreatorsRead adds n creator rows read from a modal.
func (m *Metrics) CreatorsRead(n int) {
	if m != nil {
		m.creators.Add(float64(n))
	}
}

// EnrichMiss counts a creator whose profile response was not captured.
func (m *Metrics) EnrichMiss() {
	if m != nil {
		m.enrichMisses.Inc()
	}
}

// EnrichLatency records how long a captured profile response took.
func (m *Metrics) EnrichLatency(d time.Duration) {
	if m != nil {
		m.enrichLatency.Observe(d.Seconds())
	}
}

// ModalTimeout counts a drill-down whose modal never opened.
func (m *Metrics) ModalTimeout() {
	if m != nil {
		m.modalTimeouts.Inc()
	}
}

// EmitFailure counts a manager unit the sink rejected.
func (m *Metrics) EmitFailure() {
	if m != nil {
		m.emitFailures.Inc()
	}
}

// DeadLettered counts a unit parked in the dead letter queue.
func (m *Metrics) DeadLettered() {
	if m != nil {
		m.deadLettered.Inc()
	}
}

// SkippedCreator counts a creator entry the sink could not identify.
func (m *Metrics) SkippedCreator() {
	if m != nil {
		m.skippedCreators.Inc()
	}
}

// BatchDuration records the time to commit one creator batch.
func (m *Metrics) BatchDuration(d time.Duration) {
	if m != nil {
		m.batchDuration.Observe(d.Seconds())
	}
}

// Success stamps the time of the last successful run.
func (m *Metrics) Success(at time.Time) {
	if m != nil {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// Push sends every collector to the Pushgateway at url under job, grouped
// by period. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job, period string) error {
	if m == nil || url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(m.registry).
		Grouping("period", period).
		PushContext(ctx)
	return eris.Wrapf(err, "metrics: push to %s", url)
}
