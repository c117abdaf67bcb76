package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts fan-out outcomes. A nil *Metrics records nothing.
type Metrics struct {
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewMetrics registers the notification collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_notifications_delivered_total",
		Help: "Notification deliveries partitioned by channel.",
	}, []string{"channel"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_notification_failures_total",
		Help: "Notification delivery failures partitioned by stage.",
	}, []string{"stage"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(delivered, failures)
	return &Metrics{delivered: delivered, failures: failures}
}

func (m *Metrics) delivery(channel string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(channel).Inc()
}

func (m *Metrics) failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}
