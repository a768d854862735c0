package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for StoreOperations.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

//nolint:gochecknoglobals
var (
	StoreOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "userstore",
		Name:      "operations_total",
		Help:      "User store operations by scope, operation and result.",
	}, []string{"scope", "op", "result"})

	StoreOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "userstore",
		Name:      "operation_duration_seconds",
		Help:      "Latency of user store operations, including the reload notification.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"scope", "op"})

	Reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "userstore",
		Name:      "reloads_total",
		Help:      "Identity reload notifications by source and result.",
	}, []string{"source", "result"})
)

// Register registers the store metrics on the given registry (or the default if nil).
// Metrics that are already registered are ignored.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	for _, c := range []prometheus.Collector{StoreOperations, StoreOperationDuration, Reloads} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	return nil
}
