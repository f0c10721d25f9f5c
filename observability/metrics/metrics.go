package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stable aggregates the issuance engine counters.
type Stable struct {
	Mints        prometheus.Counter
	Repays       prometheus.Counter
	Deposits     prometheus.Counter
	Withdrawals  prometheus.Counter
	Liquidations prometheus.Counter
	SupplyGauge  prometheus.Gauge
}

// Bridge aggregates the settlement engine counters.
type Bridge struct {
	Initiated  prometheus.Counter
	Completed  prometheus.Counter
	Cancelled  prometheus.Counter
	Rejected   *prometheus.CounterVec
	PendingTxs prometheus.Gauge
}

var (
	once      sync.Once
	stableSet *Stable
	bridgeSet *Bridge
)

func register() {
	stableSet = &Stable{
		Mints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_stable_mints_total",
			Help: "Stablecoin mint operations accepted.",
		}),
		Repays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_stable_repays_total",
			Help: "Stablecoin repayments accepted.",
		}),
		Deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_stable_deposits_total",
			Help: "Collateral deposits accepted.",
		}),
		Withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_stable_withdrawals_total",
			Help: "Collateral withdrawals accepted.",
		}),
		Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_stable_liquidations_total",
			Help: "Positions liquidated.",
		}),
		SupplyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenledger_stable_supply_wei",
			Help: "Tracked circulating stablecoin supply in wei.",
		}),
	}
	bridgeSet = &Bridge{
		Initiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_bridge_initiated_total",
			Help: "Bridge transfers escrowed.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_bridge_completed_total",
			Help: "Bridge transfers settled on attestation.",
		}),
		Cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenledger_bridge_cancelled_total",
			Help: "Bridge transfers refunded.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenledger_bridge_rejected_total",
			Help: "Bridge operations rejected, labelled by reason.",
		}, []string{"reason"}),
		PendingTxs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenledger_bridge_pending",
			Help: "Bridge transfers currently pending settlement.",
		}),
	}
	prometheus.MustRegister(
		stableSet.Mints, stableSet.Repays, stableSet.Deposits,
		stableSet.Withdrawals, stableSet.Liquidations, stableSet.SupplyGauge,
		bridgeSet.Initiated, bridgeSet.Completed, bridgeSet.Cancelled,
		bridgeSet.Rejected, bridgeSet.PendingTxs,
	)
}

// StableMetrics returns the singleton issuance counters.
func StableMetrics() *Stable {
	once.Do(register)
	return stableSet
}

// BridgeMetrics returns the singleton settlement counters.
func BridgeMetrics() *Bridge {
	once.Do(register)
	return bridgeSet
}
