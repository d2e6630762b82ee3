package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Commands          *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	EventsConsumed    *prometheus.CounterVec
	DeadLetters       prometheus.Counter
	RemindersFired    prometheus.Counter
	NotifyDropped     prometheus.Counter
	ConnectedClients  prometheus.Gauge
	ConversationTurns prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command executor operations by op and outcome.",
		}, []string{"op", "outcome"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events relayed onto the bus by topic.",
		}, []string{"topic"}),
		EventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Events handled by consumer and outcome.",
		}, []string{"consumer", "outcome"}),
		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Events routed to the dead-letter store.",
		}),
		RemindersFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Reminder schedules fired by the scheduler.",
		}),
		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_dropped_total",
			Help:      "Notifications dropped due to a full client queue.",
		}),
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Clients currently connected to the notification stream.",
		}),
		ConversationTurns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation requests handled end to end.",
		}),
	}
}

func (m *Metrics) ObserveCommand(op, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveConsumed(consumer, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(consumer, outcome).Inc()
}

func (m *Metrics) ObservePublished(topic string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.DeadLetters.Inc()
}

func (m *Metrics) ReminderFired() {
	if m == nil {
		return
	}
	m.RemindersFired.Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotifyDropped.Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ConnectedClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ConnectedClients.Dec()
}

func (m *Metrics) ConversationTurn() {
	if m == nil {
		return
	}
	m.ConversationTurns.Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
