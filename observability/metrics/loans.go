package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoanMetrics exposes the prometheus collectors maintained by the loans
// module.
type LoanMetrics struct {
	operations       *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	liquidations     prometheus.Counter
	settlements      prometheus.Counter
	sweepFaults      prometheus.Counter
	interestFailures prometheus.Counter
	totalLoan        prometheus.Gauge
	totalCollateral  prometheus.Gauge
	liquidatingLoans prometheus.Gauge
	price            prometheus.Gauge
	interestRate     prometheus.Gauge
	sweepDuration    prometheus.Histogram
}

var (
	loansOnce     sync.Once
	loansRegistry *LoanMetrics
)

// Loans returns the process-wide loan metrics registry.
func Loans() *LoanMetrics {
	loansOnce.Do(func() {
		loansRegistry = &LoanMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "operations_total",
				Help:      "Count of loan operations by kind and outcome.",
			}, []string{"operation", "outcome"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "compensations_total",
				Help:      "Number of compensating steps executed after a partial failure.",
			}, []string{"operation"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "liquidations_entered_total",
				Help:      "Loans moved into the liquidating set by the health sweep.",
			}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "liquidations_settled_total",
				Help:      "Liquidating loans settled by the settlement account.",
			}),
			sweepFaults: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "sweep_faults_total",
				Help:      "Loans skipped by the health sweep because classification failed.",
			}),
			interestFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "interest_failures_total",
				Help:      "Per-loan interest charges that could not be applied.",
			}),
			totalLoan: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "total_loan",
				Help:      "Aggregate outstanding loan balance.",
			}),
			totalCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "total_collateral",
				Help:      "Aggregate collateral backing active loans.",
			}),
			liquidatingLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "liquidating_loans",
				Help:      "Number of loans awaiting settlement.",
			}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "collateral_price",
				Help:      "Latest collateral price pushed by the oracle (scaled by 1e8).",
			}),
			interestRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "interest_rate_current",
				Help:      "Interest rate computed by the most recent accrual.",
			}),
			sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "loanchain",
				Subsystem: "loans",
				Name:      "sweep_duration_seconds",
				Help:      "Time spent classifying the loan book on each heartbeat.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			loansRegistry.operations,
			loansRegistry.compensations,
			loansRegistry.liquidations,
			loansRegistry.settlements,
			loansRegistry.sweepFaults,
			loansRegistry.interestFailures,
			loansRegistry.totalLoan,
			loansRegistry.totalCollateral,
			loansRegistry.liquidatingLoans,
			loansRegistry.price,
			loansRegistry.interestRate,
			loansRegistry.sweepDuration,
		)
	})
	return loansRegistry
}

// ObserveOperation records the outcome of a user or admin operation.
func (m *LoanMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *LoanMetrics) ObserveCompensation(operation string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(operation).Inc()
}

func (m *LoanMetrics) ObserveLiquidationEntered() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *LoanMetrics) ObserveSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

func (m *LoanMetrics) ObserveSweepFault() {
	if m == nil {
		return
	}
	m.sweepFaults.Inc()
}

func (m *LoanMetrics) ObserveInterestFailure() {
	if m == nil {
		return
	}
	m.interestFailures.Inc()
}

func (m *LoanMetrics) ObserveSweep(duration time.Duration, liquidating int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.liquidatingLoans.Set(float64(liquidating))
}

// SetTotals publishes the registry aggregates.
func (m *LoanMetrics) SetTotals(totalLoan, totalCollateral *big.Int) {
	if m == nil {
		return
	}
	m.totalLoan.Set(toFloat(totalLoan))
	m.totalCollateral.Set(toFloat(totalCollateral))
}

func (m *LoanMetrics) SetPrice(price uint64) {
	if m == nil {
		return
	}
	m.price.Set(float64(price))
}

func (m *LoanMetrics) SetInterestRate(rate *big.Int) {
	if m == nil {
		return
	}
	m.interestRate.Set(toFloat(rate))
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
