package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MonitorMetrics contains metrics for the event monitor and its notifications.
// All methods are safe to call on a nil receiver.
type MonitorMetrics struct {
	EventsProcessed prometheus.Counter
	StepFailures    *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	Notifications   *prometheus.CounterVec
	registry        *prometheus.Registry
}

// Notification results used as the "result" label.
const (
	NotificationSent      = "sent"
	NotificationThrottled = "throttled"
	NotificationFailed    = "failed"
)

// NewMonitorMetrics creates and registers monitor metrics.
func NewMonitorMetrics(registry *prometheus.Registry) (*MonitorMetrics, error) {
	m := &MonitorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register monitor metrics: %w", err)
	}
	return m, nil
}

func (m *MonitorMetrics) initMetrics() {
	m.EventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_events_processed_total",
		Help: "Total number of motion events processed by the monitor",
	})

	m.StepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_event_step_failures_total",
		Help: "Total number of failed event processing steps",
	}, []string{"step"})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "motioncam_event_queue_depth",
		Help: "Number of events waiting for the monitor",
	})

	m.Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_notifications_total",
		Help: "Total number of notification attempts by result",
	}, []string{"result"})
}

// IncrementEvents counts a processed event.
func (m *MonitorMetrics) IncrementEvents() {
	if m == nil {
		return
	}
	m.EventsProcessed.Inc()
}

// RecordStepFailure counts a failed processing step.
func (m *MonitorMetrics) RecordStepFailure(step string) {
	if m == nil {
		return
	}
	m.StepFailures.WithLabelValues(step).Inc()
}

// SetQueueDepth updates the pending event gauge.
func (m *MonitorMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordNotification counts a notification attempt.
func (m *MonitorMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MonitorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EventsProcessed.Collect(ch)
	m.StepFailures.Collect(ch)
	m.QueueDepth.Collect(ch)
	m.Notifications.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *MonitorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EventsProcessed.Describe(ch)
	m.StepFailures.Describe(ch)
	m.QueueDepth.Describe(ch)
	m.Notifications.Describe(ch)
}
