package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	movements *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the registry counting balance movements per asset.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			movements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loanchain",
				Subsystem: "ledger",
				Name:      "movements_total",
				Help:      "Count of ledger transfers, mints and burns segmented by asset.",
			}, []string{"kind", "asset"}),
		}
		prometheus.MustRegister(ledgerRegistry.movements)
	})
	return ledgerRegistry
}

// RecordMovement increments the counter for kind ("transfer", "mint" or
// "burn") and asset.
func (m *LedgerMetrics) RecordMovement(kind, asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.movements.WithLabelValues(kind, normalized).Inc()
}
