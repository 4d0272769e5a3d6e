/*

This file contains protocol bootstrap and authority-gated parameter
management. Fee and leverage caps are enforced here so that no later
operation ever sees an out-of-range parameter.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
)

// Defaults applied by InitVault. Thresholds and cooldowns can be retuned per
// vault afterwards through UpdateVaultParams and UpdateStrategyConfig.
const (
	DefaultRebalanceThresholdBps    = 500
	DefaultHarvestCooldownSeconds   = 3600
	DefaultRebalanceCooldownSeconds = 86400
	DefaultCollateralFactorBps      = 8000
	DefaultLiquidationThresholdBps  = 11000
)

// InitVaultSpec carries the caller-chosen half of a new vault's
// configuration. Everything else is seeded from defaults and the protocol
// config.
type InitVaultSpec struct {
	Strategy                types.Strategy
	AssetDenom              string
	ShareDenom              string
	LeverageCapBps          uint64
	MinDeposit              sdkmath.Int
	TargetAllocations       []int64
	CollateralFactorBps     uint64 // 0 selects the default
	LiquidationThresholdBps uint64 // 0 selects the default
}

// InitProtocolConfig creates the singleton protocol record.
func InitProtocolConfig(authority, treasury string, mgmtFeeBps, perfFeeBps uint64) (types.ProtocolConfig, error) {
	if authority == "" {
		return types.ProtocolConfig{}, errors.Join(types.ErrValidation, errors.New("authority must be set"))
	}
	if treasury == "" {
		return types.ProtocolConfig{}, errors.Join(types.ErrValidation, errors.New("treasury must be set"))
	}
	if err := validateFeeBps(mgmtFeeBps, perfFeeBps); err != nil {
		return types.ProtocolConfig{}, err
	}
	return types.ProtocolConfig{
		Authority:                authority,
		Treasury:                 treasury,
		DefaultManagementFeeBps:  mgmtFeeBps,
		DefaultPerformanceFeeBps: perfFeeBps,
	}, nil
}

// InitVault creates a vault ledger under cfg, assigning the next vault ID.
// Fees inherit the protocol defaults; cooldowns, rebalance threshold and
// leverage baseline follow the package defaults.
func InitVault(cfg *types.ProtocolConfig, spec InitVaultSpec, now int64) (types.VaultLedger, error) {
	if cfg == nil {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, errors.New("protocol config is nil"))
	}
	if !types.ValidStrategy(spec.Strategy) {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, fmt.Errorf("unknown strategy %q", spec.Strategy))
	}
	if spec.AssetDenom == "" || spec.ShareDenom == "" {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, errors.New("asset and share denoms must be set"))
	}
	if spec.LeverageCapBps < types.LeverageFloorBps || spec.LeverageCapBps > types.LeverageCeilingBps {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, fmt.Errorf("leverage cap %d bps outside [%d, %d]", spec.LeverageCapBps, types.LeverageFloorBps, types.LeverageCeilingBps))
	}
	if spec.MinDeposit.IsNil() || spec.MinDeposit.IsNegative() {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, errors.New("minimum deposit must be non-negative"))
	}
	if err := validateAllocations(spec.TargetAllocations); err != nil {
		return types.VaultLedger{}, err
	}

	collateralFactor := spec.CollateralFactorBps
	if collateralFactor == 0 {
		collateralFactor = DefaultCollateralFactorBps
	}
	if collateralFactor > types.BpsDenominator {
		return types.VaultLedger{}, errors.Join(types.ErrValidation, fmt.Errorf("collateral factor %d bps above %d", collateralFactor, types.BpsDenominator))
	}
	liquidationThreshold := spec.LiquidationThresholdBps
	if liquidationThreshold == 0 {
		liquidationThreshold = DefaultLiquidationThresholdBps
	}

	vaultID := types.VaultID(cfg.VaultCount + 1)
	allocations := make([]int64, len(spec.TargetAllocations))
	copy(allocations, spec.TargetAllocations)

	vault := types.VaultLedger{
		VaultID:                  vaultID,
		Strategy:                 spec.Strategy,
		AssetDenom:               spec.AssetDenom,
		ShareDenom:               spec.ShareDenom,
		TotalAssets:              sdkmath.ZeroInt(),
		TotalShares:              sdkmath.ZeroInt(),
		ManagementFeeBps:         cfg.DefaultManagementFeeBps,
		PerformanceFeeBps:        cfg.DefaultPerformanceFeeBps,
		HighWaterMark:            sdkmath.ZeroInt(),
		AccruedManagementFees:    sdkmath.ZeroInt(),
		AccruedPerformanceFees:   sdkmath.ZeroInt(),
		LeverageCapBps:           spec.LeverageCapBps,
		CurrentLeverageBps:       types.LeverageFloorBps,
		CollateralFactorBps:      collateralFactor,
		LiquidationThresholdBps:  liquidationThreshold,
		TargetAllocations:        allocations,
		RebalanceThresholdBps:    DefaultRebalanceThresholdBps,
		HarvestCooldownSeconds:   DefaultHarvestCooldownSeconds,
		RebalanceCooldownSeconds: DefaultRebalanceCooldownSeconds,
		LastHarvestTime:          now,
		MinDeposit:               spec.MinDeposit,
		CreatedAt:                now,
	}

	cfg.VaultCount = uint64(vaultID)
	ledgerLogger.Info().
		Uint64("vault_id", uint64(vaultID)).
		Str("strategy", string(spec.Strategy)).
		Str("asset_denom", spec.AssetDenom).
		Msg("Vault initialized")
	return vault, nil
}

// UpdateVaultParams retunes the fee schedule, minimum deposit and cooldowns
// of a vault. Authority-gated.
func UpdateVaultParams(vault *types.VaultLedger, cfg *types.ProtocolConfig, caller string, mgmtFeeBps, perfFeeBps uint64, minDeposit sdkmath.Int, harvestCooldown, rebalanceCooldown int64) error {
	if err := validateLedger(vault); err != nil {
		return err
	}
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if err := validateFeeBps(mgmtFeeBps, perfFeeBps); err != nil {
		return err
	}
	if minDeposit.IsNil() || minDeposit.IsNegative() {
		return errors.Join(types.ErrValidation, errors.New("minimum deposit must be non-negative"))
	}
	if harvestCooldown < 0 || rebalanceCooldown < 0 {
		return errors.Join(types.ErrValidation, errors.New("cooldowns must be non-negative"))
	}

	vault.ManagementFeeBps = mgmtFeeBps
	vault.PerformanceFeeBps = perfFeeBps
	vault.MinDeposit = minDeposit
	vault.HarvestCooldownSeconds = harvestCooldown
	vault.RebalanceCooldownSeconds = rebalanceCooldown
	ledgerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Uint64("management_fee_bps", mgmtFeeBps).
		Uint64("performance_fee_bps", perfFeeBps).
		Msg("Vault parameters updated")
	return nil
}

// UpdateStrategyConfig retunes the allocation targets and risk posture of a
// vault. Authority-gated.
func UpdateStrategyConfig(vault *types.VaultLedger, cfg *types.ProtocolConfig, caller string, targetAllocations []int64, rebalanceThresholdBps, leverageCapBps, collateralFactorBps, liquidationThresholdBps uint64) error {
	if err := validateLedger(vault); err != nil {
		return err
	}
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if err := validateAllocations(targetAllocations); err != nil {
		return err
	}
	if rebalanceThresholdBps > types.BpsDenominator {
		return errors.Join(types.ErrValidation, fmt.Errorf("rebalance threshold %d bps above %d", rebalanceThresholdBps, types.BpsDenominator))
	}
	if leverageCapBps < types.LeverageFloorBps || leverageCapBps > types.LeverageCeilingBps {
		return errors.Join(types.ErrValidation, fmt.Errorf("leverage cap %d bps outside [%d, %d]", leverageCapBps, types.LeverageFloorBps, types.LeverageCeilingBps))
	}
	if collateralFactorBps == 0 || collateralFactorBps > types.BpsDenominator {
		return errors.Join(types.ErrValidation, fmt.Errorf("collateral factor %d bps outside (0, %d]", collateralFactorBps, types.BpsDenominator))
	}
	if liquidationThresholdBps == 0 {
		return errors.Join(types.ErrValidation, errors.New("liquidation threshold must be positive"))
	}

	allocations := make([]int64, len(targetAllocations))
	copy(allocations, targetAllocations)
	vault.TargetAllocations = allocations
	vault.RebalanceThresholdBps = rebalanceThresholdBps
	vault.LeverageCapBps = leverageCapBps
	vault.CollateralFactorBps = collateralFactorBps
	vault.LiquidationThresholdBps = liquidationThresholdBps
	ledgerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Uint64("rebalance_threshold_bps", rebalanceThresholdBps).
		Uint64("leverage_cap_bps", leverageCapBps).
		Msg("Strategy config updated")
	return nil
}

// PauseVault halts deposits and harvests on a vault. Withdrawals stay open
// so shareholders are never locked in. Authority-gated.
func PauseVault(vault *types.VaultLedger, cfg *types.ProtocolConfig, caller string) error {
	if err := validateLedger(vault); err != nil {
		return err
	}
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if vault.Paused {
		return errors.Join(types.ErrValidation, fmt.Errorf("vault %d is already paused", vault.VaultID))
	}
	vault.Paused = true
	ledgerLogger.Warn().Uint64("vault_id", uint64(vault.VaultID)).Msg("Vault paused")
	return nil
}

// UnpauseVault reopens a paused vault. Authority-gated.
func UnpauseVault(vault *types.VaultLedger, cfg *types.ProtocolConfig, caller string) error {
	if err := validateLedger(vault); err != nil {
		return err
	}
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if !vault.Paused {
		return errors.Join(types.ErrValidation, fmt.Errorf("vault %d is not paused", vault.VaultID))
	}
	vault.Paused = false
	ledgerLogger.Info().Uint64("vault_id", uint64(vault.VaultID)).Msg("Vault unpaused")
	return nil
}

// PauseProtocol halts engine activity across all vaults. Authority-gated.
func PauseProtocol(cfg *types.ProtocolConfig, caller string) error {
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if cfg.Paused {
		return errors.Join(types.ErrValidation, errors.New("protocol is already paused"))
	}
	cfg.Paused = true
	ledgerLogger.Warn().Msg("Protocol paused")
	return nil
}

// UnpauseProtocol resumes engine activity. Authority-gated.
func UnpauseProtocol(cfg *types.ProtocolConfig, caller string) error {
	if err := requireAuthority(cfg, caller); err != nil {
		return err
	}
	if !cfg.Paused {
		return errors.Join(types.ErrValidation, errors.New("protocol is not paused"))
	}
	cfg.Paused = false
	ledgerLogger.Info().Msg("Protocol unpaused")
	return nil
}

func requireAuthority(cfg *types.ProtocolConfig, caller string) error {
	if cfg == nil {
		return errors.Join(types.ErrValidation, errors.New("protocol config is nil"))
	}
	if caller == "" || caller != cfg.Authority {
		return errors.Join(types.ErrUnauthorized, fmt.Errorf("caller %q is not the authority", caller))
	}
	return nil
}

func validateFeeBps(mgmtFeeBps, perfFeeBps uint64) error {
	if mgmtFeeBps > types.MaxManagementFeeBps {
		return errors.Join(types.ErrValidation, fmt.Errorf("management fee %d bps above cap %d", mgmtFeeBps, types.MaxManagementFeeBps))
	}
	if perfFeeBps > types.MaxPerformanceFeeBps {
		return errors.Join(types.ErrValidation, fmt.Errorf("performance fee %d bps above cap %d", perfFeeBps, types.MaxPerformanceFeeBps))
	}
	return nil
}

func validateAllocations(allocations []int64) error {
	if len(allocations) == 0 {
		return errors.Join(types.ErrValidation, errors.New("target allocations must not be empty"))
	}
	var sum int64
	for i, a := range allocations {
		if a < 0 {
			return errors.Join(types.ErrValidation, fmt.Errorf("allocation %d is negative", i))
		}
		sum += a
	}
	if sum != types.BpsDenominator {
		return errors.Join(types.ErrValidation, fmt.Errorf("allocations sum to %d bps, want %d", sum, types.BpsDenominator))
	}
	return nil
}
