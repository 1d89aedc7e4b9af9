package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "compliance_tracker"

// Collector owns the Prometheus metrics of the tracker. A nil *Collector is
// valid and records nothing.
type Collector struct {
	transitionsTotal *prometheus.CounterVec

	escalationsCreated      *prometheus.CounterVec
	escalationsAcknowledged prometheus.Counter
	escalationsResolved     prometheus.Counter
	escalationsReopened     prometheus.Counter

	slaNoticesTotal   *prometheus.CounterVec
	entitiesByClass   *prometheus.GaugeVec
	notificationsSent *prometheus.CounterVec
	notificationTime  *prometheus.HistogramVec
	queueDepth        prometheus.Gauge

	sweepsTotal      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepEntityFails prometheus.Counter

	eventsProcessed *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Total number of recorded status transitions",
			},
			[]string{"status", "actor_role"},
		),
		escalationsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_created_total",
				Help:      "Total number of escalation events created",
			},
			[]string{"priority"},
		),
		escalationsAcknowledged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_acknowledged_total",
				Help:      "Total number of escalation events acknowledged",
			},
		),
		escalationsResolved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_resolved_total",
				Help:      "Total number of escalation events resolved",
			},
		),
		escalationsReopened: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_reopened_total",
				Help:      "Total number of resolved escalation events reopened",
			},
		),
		slaNoticesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sla_notices_total",
				Help:      "Total number of SLA threshold notices emitted",
			},
			[]string{"classification"},
		),
		entitiesByClass: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities",
				Help:      "Tracked entities by SLA classification at the last sweep",
			},
			[]string{"classification"},
		),
		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification requests by sink and outcome",
			},
			[]string{"sink", "kind", "outcome"},
		),
		notificationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Time spent handing a notification to its sink",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_queue_depth",
				Help:      "Notification requests waiting for a worker",
			},
		),
		sweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Total number of sweeps by outcome",
			},
			[]string{"outcome"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of evaluation sweeps",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		sweepEntityFails: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_entity_errors_total",
				Help:      "Entities whose evaluation failed during a sweep",
			},
		),
		eventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Status change messages consumed by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// RecordTransition records a status transition
func (c *Collector) RecordTransition(status, actorRole string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(status, actorRole).Inc()
}

// RecordEscalationCreated records a newly created escalation event
func (c *Collector) RecordEscalationCreated(priority string) {
	if c == nil {
		return
	}
	c.escalationsCreated.WithLabelValues(priority).Inc()
}

func (c *Collector) RecordEscalationAcknowledged() {
	if c == nil {
		return
	}
	c.escalationsAcknowledged.Inc()
}

func (c *Collector) RecordEscalationResolved() {
	if c == nil {
		return
	}
	c.escalationsResolved.Inc()
}

func (c *Collector) RecordEscalationReopened() {
	if c == nil {
		return
	}
	c.escalationsReopened.Inc()
}

// RecordSLANotice records an emitted SLA threshold notice
func (c *Collector) RecordSLANotice(classification string) {
	if c == nil {
		return
	}
	c.slaNoticesTotal.WithLabelValues(classification).Inc()
}

// SetClassificationCounts replaces the per-classification entity gauges
func (c *Collector) SetClassificationCounts(counts map[string]int) {
	if c == nil {
		return
	}
	c.entitiesByClass.Reset()
	for class, n := range counts {
		c.entitiesByClass.WithLabelValues(class).Set(float64(n))
	}
}

// RecordNotification records the outcome of handing a request to a sink
func (c *Collector) RecordNotification(sink, kind, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.notificationsSent.WithLabelValues(sink, kind, outcome).Inc()
	if duration > 0 {
		c.notificationTime.WithLabelValues(sink).Observe(duration.Seconds())
	}
}

// SetQueueDepth reports the number of queued notification requests
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// RecordSweep records a completed sweep
func (c *Collector) RecordSweep(outcome string, duration time.Duration, entityErrors int) {
	if c == nil {
		return
	}
	c.sweepsTotal.WithLabelValues(outcome).Inc()
	c.sweepDuration.Observe(duration.Seconds())
	c.sweepEntityFails.Add(float64(entityErrors))
}

// RecordEventProcessed records a consumed status change message
func (c *Collector) RecordEventProcessed(topic, outcome string) {
	if c == nil {
		return
	}
	c.eventsProcessed.WithLabelValues(topic, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
