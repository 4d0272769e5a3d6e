/*

This file contains the vault ledger types which hold all the state needed for share accounting, fee accrual and rebalance scheduling.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// VaultID uniquely identifies a vault ledger
type VaultID uint64

// Strategy identifies the yield strategy a vault runs
type Strategy string

const (
	StrategyLpFarming      Strategy = "LP_FARMING"
	StrategyLeveragedYield Strategy = "LEVERAGED_YIELD"
	StrategyAutoCompound   Strategy = "AUTO_COMPOUND"
	StrategyDeltaNeutral   Strategy = "DELTA_NEUTRAL"
)

// ValidStrategy reports whether s is one of the known strategies.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyLpFarming, StrategyLeveragedYield, StrategyAutoCompound, StrategyDeltaNeutral:
		return true
	}
	return false
}

// ProtocolConfig is the singleton protocol-level record. Only the authority
// may mutate it.
type ProtocolConfig struct {
	Authority                string `json:"authority"`
	Treasury                 string `json:"treasury"`
	DefaultManagementFeeBps  uint64 `json:"default_management_fee_bps"`
	DefaultPerformanceFeeBps uint64 `json:"default_performance_fee_bps"`
	Paused                   bool   `json:"paused"`
	VaultCount               uint64 `json:"vault_count"` // Monotonic, assigns vault IDs
}

// VaultLedger is the per-vault aggregate record. All operations validate
// against a copy and commit only on success, so a ledger value that came out
// of an operation is always internally consistent: TotalShares == 0 iff
// TotalAssets == 0, HighWaterMark never decreases, allocations sum to 10000.
type VaultLedger struct {
	VaultID  VaultID  `json:"vault_id"`
	Strategy Strategy `json:"strategy"`

	AssetDenom string `json:"asset_denom"` // Underlying denom (e.g. uusdc)
	ShareDenom string `json:"share_denom"`

	TotalAssets sdkmath.Int `json:"total_assets"` // Smallest-unit underlying held
	TotalShares sdkmath.Int `json:"total_shares"`

	ManagementFeeBps  uint64      `json:"management_fee_bps"`
	PerformanceFeeBps uint64      `json:"performance_fee_bps"`
	HighWaterMark     sdkmath.Int `json:"high_water_mark"` // Floor NAV per share at last settlement

	// Fee buckets awaiting collection by the authority. Accrual moves value
	// out of TotalAssets into these; CollectFees zeroes them.
	AccruedManagementFees  sdkmath.Int `json:"accrued_management_fees"`
	AccruedPerformanceFees sdkmath.Int `json:"accrued_performance_fees"`

	LeverageCapBps          uint64 `json:"leverage_cap_bps"`
	CurrentLeverageBps      uint64 `json:"current_leverage_bps"`
	CollateralFactorBps     uint64 `json:"collateral_factor_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`

	TargetAllocations     []int64 `json:"target_allocations"` // Bps per strategy leg, sums to 10000
	RebalanceThresholdBps uint64  `json:"rebalance_threshold_bps"`

	HarvestCooldownSeconds   int64 `json:"harvest_cooldown_seconds"`
	RebalanceCooldownSeconds int64 `json:"rebalance_cooldown_seconds"`
	LastHarvestTime          int64 `json:"last_harvest_time"` // Unix seconds
	LastRebalanceTime        int64 `json:"last_rebalance_time"`

	MinDeposit sdkmath.Int `json:"min_deposit"`
	Paused     bool        `json:"paused"`
	CreatedAt  int64       `json:"created_at"`
}

// Clone returns a deep copy of the ledger. sdkmath.Int values are immutable
// under arithmetic but the allocation slice is not, so it is copied.
func (v *VaultLedger) Clone() VaultLedger {
	out := *v
	out.TargetAllocations = make([]int64, len(v.TargetAllocations))
	copy(out.TargetAllocations, v.TargetAllocations)
	return out
}

// ShareBalance is the per-(vault, account) share holding record.
type ShareBalance struct {
	VaultID VaultID     `json:"vault_id"`
	Account string      `json:"account"`
	Shares  sdkmath.Int `json:"shares"`
}
