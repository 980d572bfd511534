package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	RejectedTotal      *prometheus.CounterVec
	TotalNativeCustody prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bank_operations_total",
				Help: "Total vault operations by operation and status.",
			},
			[]string{"op", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bank_operation_duration_seconds",
				Help:    "Vault operation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bank_operations_rejected_total",
				Help: "Rejected vault operations by reason.",
			},
			[]string{"reason"},
		),
		TotalNativeCustody: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bank_native_custody_units",
				Help: "Native asset units currently held in custody.",
			},
		),
	}

	registry.MustRegister(m.OperationsTotal, m.OperationDuration, m.RejectedTotal, m.TotalNativeCustody)
	return m
}

func (m *Metrics) ObserveOperation(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetTotalNative(units float64) {
	if m == nil {
		return
	}
	m.TotalNativeCustody.Set(units)
}
