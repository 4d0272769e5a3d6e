// Package metrics holds the Prometheus collectors for the engine. Collectors
// are registered once at import time and shared by the engine and the web
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts engine cycles that ran to completion.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Engine cycles that ran to completion.",
	})

	// CycleFailuresTotal counts cycles aborted before completion.
	CycleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "cycle_failures_total",
		Help:      "Engine cycles aborted before completion.",
	})

	// CycleDurationSeconds observes wall-clock cycle duration.
	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of engine cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// FlowsAppliedTotal counts settled custody flows applied to the ledger,
	// labeled by direction (IN or OUT).
	FlowsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "flows_applied_total",
		Help:      "Settled custody flows applied to the vault ledger.",
	}, []string{"direction"})

	// FlowsRejectedTotal counts flows the ledger refused to apply.
	FlowsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "flows_rejected_total",
		Help:      "Settled custody flows the ledger refused to apply.",
	})

	// HarvestsTotal counts completed harvests.
	HarvestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "harvests_total",
		Help:      "Completed vault harvests.",
	})

	// LiquidationsTotal counts executed liquidations, labeled partial or full.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "liquidations_total",
		Help:      "Executed position liquidations.",
	}, []string{"mode"})

	// RebalancesTotal counts rebalance plans submitted to custody.
	RebalancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "rebalances_total",
		Help:      "Rebalance plans submitted to custody.",
	})

	// RebalancesSkippedTotal counts plans rejected before submission, labeled
	// by reason (not_due, slippage).
	RebalancesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "engine",
		Name:      "rebalances_skipped_total",
		Help:      "Rebalance plans rejected before submission.",
	}, []string{"reason"})

	// InstructionsSubmittedTotal counts signed instructions accepted by the
	// custody service, labeled by kind.
	InstructionsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vre",
		Subsystem: "custody",
		Name:      "instructions_submitted_total",
		Help:      "Signed instructions accepted by the custody service.",
	}, []string{"kind"})

	// VaultTotalAssets exports each vault's book assets in display units.
	VaultTotalAssets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vre",
		Subsystem: "vault",
		Name:      "total_assets",
		Help:      "Vault book assets in display units.",
	}, []string{"vault_id", "denom"})

	// VaultNavPerShare exports each vault's scaled NAV per share.
	VaultNavPerShare = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vre",
		Subsystem: "vault",
		Name:      "nav_per_share",
		Help:      "Vault NAV per share, scaled by the share unit.",
	}, []string{"vault_id"})
)
