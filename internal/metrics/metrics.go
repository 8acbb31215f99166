// Package metrics defines the prometheus collectors of the adapter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.
const (
	OperationsTotalKey   = "tuplex_operations_total"
	RowsTotalKey         = "tuplex_rows_total"
	OperationSecondsKey  = "tuplex_operation_seconds"
	DescriptorCacheKey   = "tuplex_descriptor_cache_total"
	TransactionAbortsKey = "tuplex_transaction_aborts_total"
)

// Outcome label values.
const (
	OutcomeOK         = "ok"
	OutcomeConstraint = "constraint"
	OutcomeAborted    = "aborted"
	OutcomeError      = "error"
)

// Collectors for adapter operations.
var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: OperationsTotalKey,
		Help: "Cumulative number of adapter operations by kind and outcome.",
	}, []string{"op", "outcome"})
	RowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RowsTotalKey,
		Help: "Cumulative number of rows read or affected by adapter operations.",
	}, []string{"op"})
	OperationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    OperationSecondsKey,
		Help:    "Duration of adapter operations.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})
	DescriptorCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DescriptorCacheKey,
		Help: "Prepared descriptor cache lookups by result (hit or miss).",
	}, []string{"result"})
	TransactionAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: TransactionAbortsKey,
		Help: "Cumulative number of aborted transactions.",
	})
)

// Collectors returns every tuplex collector, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		OperationsTotal,
		RowsTotal,
		OperationSeconds,
		DescriptorCacheTotal,
		TransactionAbortsTotal,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveOperation records one finished operation.
func ObserveOperation(op, outcome string, rows int, elapsed time.Duration) {
	OperationsTotal.WithLabelValues(op, outcome).Inc()
	if rows > 0 {
		RowsTotal.WithLabelValues(op).Add(float64(rows))
	}
	OperationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}
