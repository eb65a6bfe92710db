package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы выполнения задачи для метрик.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeSuppressed = "suppressed"
	OutcomePropagated = "propagated"
)

// Metrics — метрики движка очередей.
//
// Все методы безопасны для nil-получателя: очередь без метрик
// просто ничего не записывает.
type Metrics struct {
	tasks             *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	queueRuns         *prometheus.CounterVec
	transfers         prometheus.Counter
	backgroundPending prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tasks_total",
			Help: "Settled queue tasks by mode and outcome",
		}, []string{"mode", "outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_task_duration_seconds",
			Help:    "Queue task execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		queueRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_queue_runs_total",
			Help: "Finished queue runs by final status",
		}, []string{"status"}),
		transfers: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_transfers_total",
			Help: "Queue runs handed over to another queue",
		}),
		backgroundPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_background_pending",
			Help: "Background tasks dispatched but not yet collected",
		}),
	}
}

// TaskSettled записывает завершение задачи.
func (m *Metrics) TaskSettled(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(mode, outcome).Inc()
	m.taskDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// QueueFinished записывает итоговый статус очереди.
func (m *Metrics) QueueFinished(status string) {
	if m == nil {
		return
	}
	m.queueRuns.WithLabelValues(status).Inc()
}

// Transferred записывает передачу выполнения другой очереди.
func (m *Metrics) Transferred() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

// BackgroundDispatched увеличивает число несобранных фоновых задач.
func (m *Metrics) BackgroundDispatched() {
	if m == nil {
		return
	}
	m.backgroundPending.Inc()
}

// BackgroundCollected уменьшает число несобранных фоновых задач.
func (m *Metrics) BackgroundCollected() {
	if m == nil {
		return
	}
	m.backgroundPending.Dec()
}
