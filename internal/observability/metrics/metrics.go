package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics exposes counters/histograms for the slot reservation flows.
type ReservationMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	degradedTotal     *prometheus.CounterVec
	holdsReclaimed    prometheus.Counter
	configsExpired    prometheus.Counter
	schedulerRunTotal *prometheus.CounterVec
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "reservations",
			Name:      "operations_total",
			Help:      "Total reservation operations by outcome kind",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consult",
			Subsystem: "reservations",
			Name:      "operation_latency_seconds",
			Help:      "Latency of reservation operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		degradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "reservations",
			Name:      "external_degraded_total",
			Help:      "Best-effort collaborator calls that failed after commit",
		}, []string{"collaborator"}),
		holdsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "reservations",
			Name:      "holds_reclaimed_total",
			Help:      "Lapsed holds reverted to AVAILABLE",
		}),
		configsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "reservations",
			Name:      "configurations_expired_total",
			Help:      "Appointment configurations moved to INACTIVE",
		}),
		schedulerRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Background job runs by job and status",
		}, []string{"job", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.degradedTotal, m.holdsReclaimed, m.configsExpired, m.schedulerRunTotal)
	return m
}

func (m *ReservationMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *ReservationMetrics) ObserveDegraded(collaborator string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(collaborator).Inc()
}

func (m *ReservationMetrics) AddHoldsReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsReclaimed.Add(float64(n))
}

func (m *ReservationMetrics) AddConfigurationsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.configsExpired.Add(float64(n))
}

func (m *ReservationMetrics) ObserveJobRun(job, status string) {
	if m == nil {
		return
	}
	m.schedulerRunTotal.WithLabelValues(job, status).Inc()
}
