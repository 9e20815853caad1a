package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stormguard"

// Cache request results.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheCoalesced = "coalesced"
)

// Poll cycle outcomes.
const (
	PollOK              = "ok"
	PollTransportError  = "transport_error"
	PollExtractionError = "extraction_error"
	PollSkipped         = "skipped"
	PollDiscarded       = "discarded"
)

// Metrics holds the collectors for a single stormguard instance.
type Metrics struct {
	cacheRequests  *prometheus.CounterVec
	cacheLoads     *prometheus.CounterVec
	loadDuration   prometheus.Histogram
	polls          *prometheus.CounterVec
	sourceValue    *prometheus.GaugeVec
	guardDecisions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// If reg is nil the collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Count of keyed cache reads by result (hit, miss, coalesced).",
			},
			[]string{"result"},
		),
		cacheLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "loads_total",
				Help:      "Count of loader invocations by outcome.",
			},
			[]string{"outcome"},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "load_duration_seconds",
				Help:      "Loader latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "polls_total",
				Help:      "Count of polling cycles by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		sourceValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "value",
				Help:      "Last accepted sample per source.",
			},
			[]string{"source"},
		),
		guardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "decisions_total",
				Help:      "Count of navigation decisions by action and reason.",
			},
			[]string{"action", "reason"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheRequests,
			m.cacheLoads,
			m.loadDuration,
			m.polls,
			m.sourceValue,
			m.guardDecisions,
		)
	}
	return m
}

// RecordCacheRequest counts a cache read with the given result.
func (m *Metrics) RecordCacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// RecordCacheLoad counts a loader invocation and observes its latency.
func (m *Metrics) RecordCacheLoad(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.cacheLoads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(elapsed.Seconds())
}

// RecordPoll counts a polling cycle outcome for a source.
func (m *Metrics) RecordPoll(source, outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(source, outcome).Inc()
}

// SetSourceValue publishes the last accepted sample of a source.
func (m *Metrics) SetSourceValue(source string, value float64) {
	if m == nil {
		return
	}
	m.sourceValue.WithLabelValues(source).Set(value)
}

// RecordGuardDecision counts a navigation decision.
func (m *Metrics) RecordGuardDecision(action, reason string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(action, reason).Inc()
}
