package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняло решение (включая хранилище)
	DecisionDuration *prometheus.HistogramVec

	// Traffic: решения по исходу и виду отказа
	DecisionsTotal *prometheus.CounterVec

	// Жизненный цикл политик
	PoliciesCreated prometheus.Counter
	PoliciesRevoked prometheus.Counter

	// Отбитые лимитером запросы
	RateLimited *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker журнала (0 closed, 0.5 half-open, 1 open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера журнала (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистратора пишем в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpay_decision_duration_seconds",
			Help:    "Histogram of payment authorization latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_decisions_total",
			Help: "Total number of payment decisions by outcome and denial kind.",
		}, []string{"outcome", "kind"}),

		PoliciesCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentpay_policies_created_total",
			Help: "Total number of agent policies created.",
		}),

		PoliciesRevoked: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentpay_policies_revoked_total",
			Help: "Total number of successful revoke calls.",
		}),

		RateLimited: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_rate_limited_total",
			Help: "Requests rejected by the per-agent rate limiter.",
		}, []string{"transport"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentpay_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"breaker"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentpay_audit_buffer_utilization",
			Help: "Current number of events in the decision journal buffer.",
		}),
	}
}
