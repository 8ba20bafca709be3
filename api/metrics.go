/*
metrics.go - Prometheus metrics for the reward ledger

Exposed at /metrics via promhttp. Counters are package-level and registered
through promauto on startup.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransactionsWritten counts ledger writes by transaction kind.
var TransactionsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reward",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Total ledger transactions written, by kind.",
}, []string{"kind"})

// RedemptionsRejected counts redemptions refused for insufficient balance.
var RedemptionsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reward",
	Subsystem: "ledger",
	Name:      "redemptions_rejected_total",
	Help:      "Total redemptions rejected for insufficient balance.",
})

// SweepRuns counts background reconciliation sweeps.
var SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reward",
	Subsystem: "sweeper",
	Name:      "runs_total",
	Help:      "Total background reconciliation sweeps executed.",
})

// SweepDebits counts expiry debits created by background sweeps.
var SweepDebits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reward",
	Subsystem: "sweeper",
	Name:      "expiry_debits_total",
	Help:      "Total expiry debits created by background sweeps.",
})
