package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch worker
	MessagesClaimed     *prometheus.CounterVec
	MessagesSent        *prometheus.CounterVec
	MessagesFailed      *prometheus.CounterVec
	MessagesReleased    prometheus.Counter
	DispatchLatency     prometheus.Histogram
	StaleSendingGauge   prometheus.Gauge
	ProviderSendLatency *prometheus.HistogramVec

	// Inbound and automation
	InboundReceived   *prometheus.CounterVec
	MessagesCancelled prometheus.Counter
	WorkflowActions   *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Broker metrics
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_claimed_total",
			Help:      "Total number of outbound messages claimed for dispatch",
		}, []string{"channel"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total number of outbound messages accepted by a provider",
		}, []string{"channel"}),
		MessagesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_failed_total",
			Help:      "Total number of failed dispatch attempts",
		}, []string{"channel", "reason"}),
		MessagesReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_released_total",
			Help:      "Claimed messages handed back to the queue unprocessed",
		}),
		DispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Time spent on one dispatch cycle",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		StaleSendingGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stale_sending_messages",
			Help:      "Messages that have been in sending for longer than the stale threshold",
		}),
		ProviderSendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_send_duration_seconds",
			Help:      "Duration of provider send calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),

		InboundReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inbound_messages_total",
			Help:      "Inbound replies processed",
		}, []string{"channel", "customer"}),
		MessagesCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_cancelled_total",
			Help:      "Queued messages cancelled by an inbound reply or an API call",
		}),
		WorkflowActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_actions_total",
			Help:      "Automation actions executed",
		}, []string{"type", "result"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Lifecycle events handed to the broker",
		}, []string{"event", "status"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return NewMetrics("test", "", prometheus.NewRegistry())
}
