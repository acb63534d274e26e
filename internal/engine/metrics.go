package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла операция (включая походы в календарь)
	OpDuration *prometheus.HistogramVec

	// Traffic: общее кол-во операций движка
	OpsTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Сколько слотов отдал генератор предложений
	ProposalSlots prometheus.Histogram

	// Исходы подтверждений: confirmed, conflict, compensated
	ConfirmOutcomes *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker календаря (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OpDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schedmesh_op_duration_seconds",
			Help:    "Histogram of engine operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "status"}),

		OpsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "schedmesh_ops_total",
			Help: "Total number of engine operations.",
		}, []string{"op"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "schedmesh_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, authz, not_found, conflict, internal

		ProposalSlots: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "schedmesh_proposal_slots",
			Help:    "Number of slots returned per proposal request.",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),

		ConfirmOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "schedmesh_confirm_outcomes_total",
			Help: "Confirmation attempts by outcome.",
		}, []string{"outcome"}), // исходы: confirmed, conflict, compensated

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "schedmesh_circuit_breaker_state",
			Help: "Current state of the calendar circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"connector_id"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "schedmesh_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
