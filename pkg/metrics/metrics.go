package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	EventsAppended  *prometheus.CounterVec
	AppendFailures  *prometheus.CounterVec
	MessagesClaimed prometheus.Counter

	MessagesDelivered    *prometheus.CounterVec
	RetriesScheduled     *prometheus.CounterVec
	MessagesDeadLettered *prometheus.CounterVec
	DispatchLatency      *prometheus.HistogramVec

	HandlerFailures *prometheus.CounterVec
	HandlerLatency  *prometheus.HistogramVec

	DeadLettersRequeued prometheus.Counter
	DeadLettersPurged   prometheus.Counter

	OutboxBacklog *prometheus.GaugeVec
)

// Register should be called once by the consuming service.
func Register() {
	once.Do(func() {
		EventsAppended = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_events_appended_total",
				Help: "Total number of events appended to the outbox",
			},
			[]string{"event_type"},
		)

		AppendFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_append_failures_total",
				Help: "Total number of failed outbox appends",
			},
			[]string{"event_type"},
		)

		MessagesClaimed = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "eventrelay_messages_claimed_total",
				Help: "Total number of outbox messages claimed by workers",
			},
		)

		MessagesDelivered = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_messages_delivered_total",
				Help: "Total number of outbox messages delivered to all handlers",
			},
			[]string{"event_type"},
		)

		RetriesScheduled = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_retries_scheduled_total",
				Help: "Total number of retries scheduled after transient failures",
			},
			[]string{"event_type"},
		)

		MessagesDeadLettered = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_messages_dead_lettered_total",
				Help: "Total number of messages moved to the dead letter store",
			},
			[]string{"event_type", "reason"},
		)

		DispatchLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventrelay_dispatch_latency_seconds",
				Help:    "Time taken to dispatch one message to all handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		)

		HandlerFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventrelay_handler_failures_total",
				Help: "Total number of failed handler executions",
			},
			[]string{"handler", "event_type"},
		)

		HandlerLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventrelay_handler_latency_seconds",
				Help:    "Handler execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "event_type"},
		)

		DeadLettersRequeued = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "eventrelay_dead_letters_requeued_total",
				Help: "Total number of dead letters requeued by an operator",
			},
		)

		DeadLettersPurged = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "eventrelay_dead_letters_purged_total",
				Help: "Total number of dead letters deleted by an operator",
			},
		)

		OutboxBacklog = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventrelay_outbox_backlog",
				Help: "Current number of outbox messages by status",
			},
			[]string{"status"},
		)
	})
}
