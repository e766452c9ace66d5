package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the treasury counters. A zero value is usable and records
// nothing until Register is called.
type Metrics struct {
	operations       *prometheus.CounterVec
	executed         prometheus.Counter
	withdrawnAmount  prometheus.Counter
	depositedAmount  prometheus.Counter
	transferFailures *prometheus.CounterVec

	registerOnce sync.Once
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.Register(registry)
	return m
}

// Register registers the counters with registry. A nil registry is a no-op
// and later calls are ignored.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.operations = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_operations_total",
			Help: "Total number of treasury operations by operation and outcome",
		}, []string{"operation", "outcome"})

		m.executed = factory.NewCounter(prometheus.CounterOpts{
			Name: "treasury_withdrawals_executed_total",
			Help: "Total number of executed withdrawals",
		})

		m.withdrawnAmount = factory.NewCounter(prometheus.CounterOpts{
			Name: "treasury_withdrawn_amount_total",
			Help: "Total amount released by executed withdrawals",
		})

		m.depositedAmount = factory.NewCounter(prometheus.CounterOpts{
			Name: "treasury_deposited_amount_total",
			Help: "Total amount received by deposits",
		})

		m.transferFailures = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_ledger_transfer_failures_total",
			Help: "Total number of failed ledger transfers by direction",
		}, []string{"direction"})
	})
}

func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncExecuted(amount uint64) {
	if m == nil || m.executed == nil {
		return
	}
	m.executed.Inc()
	m.withdrawnAmount.Add(float64(amount))
}

func (m *Metrics) IncDeposited(amount uint64) {
	if m == nil || m.depositedAmount == nil {
		return
	}
	m.depositedAmount.Add(float64(amount))
}

func (m *Metrics) IncTransferFailure(direction string) {
	if m == nil || m.transferFailures == nil {
		return
	}
	m.transferFailures.WithLabelValues(direction).Inc()
}
