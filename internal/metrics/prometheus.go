package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports scheduler metrics in the Prometheus format. A nil
// *Prometheus is valid and records nothing.
type Prometheus struct {
	submittedTotal  prometheus.Counter
	finishedTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	activeProjects  prometheus.Gauge
	queueDepth      prometheus.Gauge
	capacity        prometheus.Gauge
	hostUtilization *prometheus.GaugeVec
	resourceWarns   *prometheus.CounterVec
}

// NewPrometheus creates the scheduler metrics and registers them with reg.
// Metric names are prefixed with namespace.
//
// Panics if registration fails (e.g., duplicate names on the same registry).
func NewPrometheus(namespace string, reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_submitted_total",
			Help:      "Projects accepted into the admission queue.",
		}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_finished_total",
			Help:      "Projects that reached a terminal status.",
		}, []string{"status"}),
		// Stages run from seconds to hours: 1s .. ~4.5h
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executor runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stage executor runs that did not succeed.",
		}, []string{"stage", "reason"}),
		activeProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_projects",
			Help:      "Projects currently holding a worker slot.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Projects waiting for admission.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity",
			Help:      "Concurrent projects the host can currently sustain.",
		}),
		hostUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_utilization_percent",
			Help:      "Last sampled host utilization.",
		}, []string{"resource"}),
		resourceWarns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_warnings_total",
			Help:      "Resource threshold breaches observed by the monitor.",
		}, []string{"resource"}),
	}

	reg.MustRegister(
		m.submittedTotal,
		m.finishedTotal,
		m.stageDuration,
		m.stageFailures,
		m.activeProjects,
		m.queueDepth,
		m.capacity,
		m.hostUtilization,
		m.resourceWarns,
	)
	return m
}

// ProjectSubmitted counts an accepted submission.
func (m *Prometheus) ProjectSubmitted() {
	if m == nil {
		return
	}
	m.submittedTotal.Inc()
}

// ProjectFinished counts a project reaching a terminal status.
func (m *Prometheus) ProjectFinished(status string) {
	if m == nil {
		return
	}
	m.finishedTotal.WithLabelValues(status).Inc()
}

// StageFinished observes a stage run. reason is empty on success, otherwise
// "failure", "timeout" or "cancelled".
func (m *Prometheus) StageFinished(stage string, seconds float64, reason string) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
	if reason != "" {
		m.stageFailures.WithLabelValues(stage, reason).Inc()
	}
}

// SetScheduling publishes the scheduler's bookkeeping gauges.
func (m *Prometheus) SetScheduling(active, queued, capacity int) {
	if m == nil {
		return
	}
	m.activeProjects.Set(float64(active))
	m.queueDepth.Set(float64(queued))
	m.capacity.Set(float64(capacity))
}

// SetHostUtilization publishes the last resource sample.
func (m *Prometheus) SetHostUtilization(cpu, memory, disk float64) {
	if m == nil {
		return
	}
	m.hostUtilization.WithLabelValues("cpu").Set(cpu)
	m.hostUtilization.WithLabelValues("memory").Set(memory)
	m.hostUtilization.WithLabelValues("disk").Set(disk)
}

// ResourceWarning counts a threshold breach for resource.
func (m *Prometheus) ResourceWarning(resource string) {
	if m == nil {
		return
	}
	m.resourceWarns.WithLabelValues(resource).Inc()
}
