/*

Package risk implements the leverage risk engine: health factor computation,
liquidation eligibility, and the liquidation flow itself. A partial
liquidation is always attempted first; the full path only runs when the
partial one cannot restore the position above the liquidation threshold.

Like the ledger package, every operation validates on copies and commits
only on success, and callers must serialize operations per vault.

*/

package risk

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/oracle"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"
)

var riskLogger = logger.GetForComponent("risk_engine")

// UnboundedHealthFactor is reported for debt-free positions. Any real
// threshold sits far below it, so comparisons need no special casing.
var UnboundedHealthFactor = sdkmath.NewIntFromUint64(math.MaxUint64)

// LiquidationResult reports what a liquidation seized and where it left the
// position.
type LiquidationResult struct {
	Owner        string              `json:"owner"`
	VaultID      types.VaultID       `json:"vault_id"`
	Repaid       sdkmath.Int         `json:"repaid"`
	Seized       sdkmath.Int         `json:"seized"`
	SharesBurned sdkmath.Int         `json:"shares_burned"`
	Full         bool                `json:"full"` // Partial could not restore health
	HealthAfter  sdkmath.Int         `json:"health_after"`
	State        types.PositionState `json:"state"`
	ExecutedAt   int64               `json:"executed_at"`
}

// HealthFactor returns floor(collateral * cf_bps / debt) in basis points.
// Zero debt means nothing can be margin-called: the factor is unbounded.
func HealthFactor(collateral, debt sdkmath.Int, collateralFactorBps uint64) (sdkmath.Int, error) {
	if collateral.IsNil() || collateral.IsNegative() || debt.IsNil() || debt.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("collateral and debt must be non-negative"))
	}
	if debt.IsZero() {
		return UnboundedHealthFactor, nil
	}
	return utils.MulDivFloor(collateral, sdkmath.NewIntFromUint64(collateralFactorBps), debt)
}

// Liquidatable reports whether the position's health factor sits strictly
// below the liquidation threshold. A position exactly at the threshold is
// still safe.
func Liquidatable(position *types.PositionLedger, risk types.RiskParameters) (bool, error) {
	if err := validatePosition(position); err != nil {
		return false, err
	}
	hf, err := HealthFactor(position.Collateral, position.Debt, risk.CollateralFactorBps)
	if err != nil {
		return false, err
	}
	return hf.LT(sdkmath.NewIntFromUint64(risk.LiquidationThresholdBps)), nil
}

// RefreshState re-derives the lifecycle state from the current health
// factor. Liquidated is terminal and never re-derived.
func RefreshState(position *types.PositionLedger, risk types.RiskParameters) (types.PositionState, error) {
	if err := validatePosition(position); err != nil {
		return "", err
	}
	if !position.Open() {
		return types.PositionLiquidated, nil
	}
	eligible, err := Liquidatable(position, risk)
	if err != nil {
		return "", err
	}
	if eligible {
		position.State = types.PositionLiquidatable
	} else {
		position.State = types.PositionHealthy
	}
	return position.State, nil
}

// OpenOrAdjust sets a position's leverage target and applies a collateral
// change in one step. Position size is floor(collateral * target / 10000)
// and debt is the difference above collateral. The call requires a fresh
// quote: leverage must never move against an unknown price.
func OpenOrAdjust(position *types.PositionLedger, vault *types.VaultLedger, targetLeverageBps uint64, collateralDelta sdkmath.Int, quote oracle.Quote, risk types.RiskParameters, now int64) (sdkmath.Int, error) {
	if err := validatePosition(position); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if vault == nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("vault ledger is nil"))
	}
	if !position.Open() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, fmt.Errorf("position of %s in vault %d is liquidated", position.Owner, position.VaultID))
	}
	if vault.Paused {
		return sdkmath.ZeroInt(), errors.Join(types.ErrVaultPaused, fmt.Errorf("vault %d does not accept leverage changes", vault.VaultID))
	}
	if targetLeverageBps < types.LeverageFloorBps || targetLeverageBps > vault.LeverageCapBps {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, fmt.Errorf("target leverage %d bps outside [%d, %d]", targetLeverageBps, types.LeverageFloorBps, vault.LeverageCapBps))
	}
	if collateralDelta.IsNil() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("collateral delta is nil"))
	}
	if err := oracle.Fresh(quote, now, risk.MaxQuoteAgeSeconds); err != nil {
		return sdkmath.ZeroInt(), err
	}

	collateral := position.Collateral.Add(collateralDelta)
	if collateral.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInsufficientFunds, fmt.Errorf("collateral delta %s exceeds posted collateral %s", collateralDelta, position.Collateral))
	}
	if collateral.IsZero() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("position requires collateral"))
	}

	size, err := utils.BpsShare(collateral, targetLeverageBps)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	debt, err := utils.CheckedSub(size, collateral)
	if err != nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, fmt.Errorf("target %d bps implies negative debt", targetLeverageBps))
	}

	hf, err := HealthFactor(collateral, debt, risk.CollateralFactorBps)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	next := *position
	next.Collateral = collateral
	next.Debt = debt
	next.LastUpdateTime = now
	if hf.LT(sdkmath.NewIntFromUint64(risk.LiquidationThresholdBps)) {
		next.State = types.PositionLiquidatable
	} else {
		next.State = types.PositionHealthy
	}

	*position = next
	vault.CurrentLeverageBps = targetLeverageBps
	riskLogger.Info().
		Str("owner", position.Owner).
		Uint64("vault_id", uint64(position.VaultID)).
		Uint64("target_leverage_bps", targetLeverageBps).
		Str("collateral", collateral.String()).
		Str("debt", debt.String()).
		Str("health_factor", hf.String()).
		Msg("Leverage adjusted")
	return hf, nil
}

// Liquidate executes a liquidation against an unhealthy position. The
// partial path repays a close-factor share of the debt and seizes that
// repayment plus the liquidation bonus; if the position would still sit
// below the threshold afterwards, the full path clears all debt instead.
// Seizing the last of the collateral retires the position permanently.
func Liquidate(position *types.PositionLedger, vault *types.VaultLedger, risk types.RiskParameters, quote oracle.Quote, now int64) (LiquidationResult, error) {
	if err := validatePosition(position); err != nil {
		return LiquidationResult{}, err
	}
	if vault == nil || vault.TotalAssets.IsNil() || vault.TotalShares.IsNil() {
		return LiquidationResult{}, errors.Join(types.ErrValidation, errors.New("vault ledger is nil or uninitialized"))
	}
	if !position.Open() {
		return LiquidationResult{}, errors.Join(types.ErrNotLiquidatable, fmt.Errorf("position of %s in vault %d is already liquidated", position.Owner, position.VaultID))
	}
	if err := oracle.Fresh(quote, now, risk.MaxQuoteAgeSeconds); err != nil {
		return LiquidationResult{}, err
	}

	threshold := sdkmath.NewIntFromUint64(risk.LiquidationThresholdBps)
	hf, err := HealthFactor(position.Collateral, position.Debt, risk.CollateralFactorBps)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !hf.LT(threshold) {
		return LiquidationResult{}, errors.Join(types.ErrNotLiquidatable, fmt.Errorf("health factor %s at or above threshold %s", hf, threshold))
	}

	collateral := position.Collateral
	debt := position.Debt

	// Partial attempt: clear a close-factor share of the debt.
	repaid, err := utils.BpsShare(debt, risk.CloseFactorBps)
	if err != nil {
		return LiquidationResult{}, err
	}
	seized, err := utils.BpsShare(repaid, risk.LiquidationBonusBps)
	if err != nil {
		return LiquidationResult{}, err
	}
	if seized.GT(collateral) {
		seized = collateral
	}
	newDebt := debt.Sub(repaid)
	newCollateral := collateral.Sub(seized)

	hfAfter, err := HealthFactor(newCollateral, newDebt, risk.CollateralFactorBps)
	if err != nil {
		return LiquidationResult{}, err
	}

	full := hfAfter.LT(threshold)
	if full {
		// Partial cannot restore health: clear all debt, seize up to the
		// bonus-weighted equivalent, absorb any shortfall.
		repaid = debt
		if seized, err = utils.BpsShare(debt, risk.LiquidationBonusBps); err != nil {
			return LiquidationResult{}, err
		}
		if seized.GT(collateral) {
			seized = collateral
		}
		newDebt = sdkmath.ZeroInt()
		newCollateral = collateral.Sub(seized)
		if hfAfter, err = HealthFactor(newCollateral, newDebt, risk.CollateralFactorBps); err != nil {
			return LiquidationResult{}, err
		}
	}

	var sharesBurned sdkmath.Int
	terminal := newCollateral.IsZero()
	if terminal {
		sharesBurned = position.Shares
	} else {
		if sharesBurned, err = utils.MulDivFloor(position.Shares, seized, collateral); err != nil {
			return LiquidationResult{}, err
		}
	}

	nextVault := vault.Clone()
	if nextVault.TotalAssets, err = utils.CheckedSub(nextVault.TotalAssets, seized); err != nil {
		return LiquidationResult{}, err
	}
	if nextVault.TotalShares, err = utils.CheckedSub(nextVault.TotalShares, sharesBurned); err != nil {
		return LiquidationResult{}, err
	}

	next := *position
	next.Collateral = newCollateral
	next.Debt = newDebt
	next.LastUpdateTime = now
	switch {
	case terminal:
		next.State = types.PositionLiquidated
		next.Shares = sdkmath.ZeroInt()
	case hfAfter.LT(threshold):
		next.State = types.PositionLiquidatable
	default:
		next.State = types.PositionHealthy
	}
	if !terminal {
		if next.Shares, err = utils.CheckedSub(next.Shares, sharesBurned); err != nil {
			return LiquidationResult{}, err
		}
	}

	*position = next
	*vault = nextVault

	result := LiquidationResult{
		Owner:        position.Owner,
		VaultID:      position.VaultID,
		Repaid:       repaid,
		Seized:       seized,
		SharesBurned: sharesBurned,
		Full:         full,
		HealthAfter:  hfAfter,
		State:        next.State,
		ExecutedAt:   now,
	}
	riskLogger.Warn().
		Str("owner", position.Owner).
		Uint64("vault_id", uint64(position.VaultID)).
		Str("repaid", repaid.String()).
		Str("seized", seized.String()).
		Str("shares_burned", sharesBurned.String()).
		Bool("full", full).
		Str("state", string(next.State)).
		Msg("Liquidation executed")
	return result, nil
}

func validatePosition(position *types.PositionLedger) error {
	if position == nil {
		return errors.Join(types.ErrValidation, errors.New("position ledger is nil"))
	}
	for name, v := range map[string]sdkmath.Int{
		"shares":     position.Shares,
		"collateral": position.Collateral,
		"debt":       position.Debt,
	} {
		if v.IsNil() {
			return errors.Join(types.ErrValidation, fmt.Errorf("position %s/%d: %s is nil", position.Owner, position.VaultID, name))
		}
		if v.IsNegative() {
			return errors.Join(types.ErrValidation, fmt.Errorf("position %s/%d: %s is negative", position.Owner, position.VaultID, name))
		}
	}
	return nil
}
