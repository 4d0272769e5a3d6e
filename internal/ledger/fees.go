/*

This file contains fee accrual and harvest settlement. Management fees accrue
on assets over elapsed time, performance fees accrue on NAV gains above the
high-water mark. Accrued fees move out of total_assets into collection
buckets without minting or burning shares, so accrual dilutes NAV for all
shareholders equally.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"
)

// HarvestResult reports the settlement a harvest performed.
type HarvestResult struct {
	VaultID        types.VaultID `json:"vault_id"`
	Rewards        sdkmath.Int   `json:"rewards"`
	ManagementFee  sdkmath.Int   `json:"management_fee"`
	PerformanceFee sdkmath.Int   `json:"performance_fee"`
	APYBps         sdkmath.Int   `json:"apy_bps"` // Annualized yield estimate for the period
	NavPerShare    sdkmath.Int   `json:"nav_per_share"`
	HighWaterMark  sdkmath.Int   `json:"high_water_mark"`
	HarvestTime    int64         `json:"harvest_time"`
}

// AccrueManagementFee deducts the time-proportional management fee:
// floor(total_assets * mgmt_bps * elapsed / (10000 * seconds_per_year)).
// A clock reading before the last harvest clamps to zero elapsed time
// rather than rewinding the accrual.
func AccrueManagementFee(vault *types.VaultLedger, now int64) (sdkmath.Int, error) {
	if err := validateLedger(vault); err != nil {
		return sdkmath.ZeroInt(), err
	}

	elapsed := now - vault.LastHarvestTime
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed == 0 || vault.ManagementFeeBps == 0 || vault.TotalAssets.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	next := vault.Clone()

	product, err := utils.CheckedMul(next.TotalAssets, sdkmath.NewIntFromUint64(vault.ManagementFeeBps))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if product, err = utils.CheckedMul(product, sdkmath.NewInt(elapsed)); err != nil {
		return sdkmath.ZeroInt(), err
	}
	fee := product.Quo(sdkmath.NewInt(int64(types.BpsDenominator) * types.SecondsPerYear))

	// The fee never exceeds the assets it accrues on.
	if fee.GT(next.TotalAssets) {
		fee = next.TotalAssets
	}

	if next.TotalAssets, err = utils.CheckedSub(next.TotalAssets, fee); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if next.AccruedManagementFees, err = utils.CheckedAdd(next.AccruedManagementFees, fee); err != nil {
		return sdkmath.ZeroInt(), err
	}

	*vault = next
	return fee, nil
}

// AccruePerformanceFee deducts the performance fee on NAV appreciation above
// the high-water mark: floor((nav - hwm) * total_shares * perf_bps / 10000).
// The mark then rises to the post-fee NAV and never decreases.
func AccruePerformanceFee(vault *types.VaultLedger) (sdkmath.Int, error) {
	if err := validateLedger(vault); err != nil {
		return sdkmath.ZeroInt(), err
	}

	nav := NavPerShare(vault.TotalAssets, vault.TotalShares)
	if nav.LTE(vault.HighWaterMark) {
		return sdkmath.ZeroInt(), nil
	}

	next := vault.Clone()

	gain := nav.Sub(next.HighWaterMark)
	product, err := utils.CheckedMul(gain, next.TotalShares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	fee, err := utils.BpsShare(product, vault.PerformanceFeeBps)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if next.TotalAssets, err = utils.CheckedSub(next.TotalAssets, fee); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if next.AccruedPerformanceFees, err = utils.CheckedAdd(next.AccruedPerformanceFees, fee); err != nil {
		return sdkmath.ZeroInt(), err
	}

	navAfter := NavPerShare(next.TotalAssets, next.TotalShares)
	if navAfter.GT(next.HighWaterMark) {
		next.HighWaterMark = navAfter
	}

	*vault = next
	return fee, nil
}

// Harvest settles a reward period: credit rewards, accrue the management
// fee, accrue the performance fee, then stamp the harvest time. The whole
// settlement commits atomically. Harvesting is permissionless; the cooldown
// is the only rate limit (zero disables it).
func Harvest(vault *types.VaultLedger, rewards sdkmath.Int, now int64) (HarvestResult, error) {
	if err := validateLedger(vault); err != nil {
		return HarvestResult{}, err
	}
	if rewards.IsNil() || rewards.IsNegative() {
		return HarvestResult{}, errors.Join(types.ErrValidation, errors.New("rewards must be non-negative"))
	}
	if vault.Paused {
		return HarvestResult{}, errors.Join(types.ErrVaultPaused, fmt.Errorf("vault %d cannot be harvested", vault.VaultID))
	}
	if !vault.TotalAssets.IsPositive() {
		return HarvestResult{}, errors.Join(types.ErrValidation, fmt.Errorf("vault %d holds no assets", vault.VaultID))
	}
	period := now - vault.LastHarvestTime
	if vault.HarvestCooldownSeconds > 0 && period < vault.HarvestCooldownSeconds {
		return HarvestResult{}, errors.Join(types.ErrValidation, fmt.Errorf("harvest cooldown active: %d of %d seconds elapsed", period, vault.HarvestCooldownSeconds))
	}

	next := vault.Clone()
	baseAssets := next.TotalAssets

	var err error
	if next.TotalAssets, err = utils.CheckedAdd(next.TotalAssets, rewards); err != nil {
		return HarvestResult{}, err
	}

	mgmtFee, err := AccrueManagementFee(&next, now)
	if err != nil {
		return HarvestResult{}, err
	}
	perfFee, err := AccruePerformanceFee(&next)
	if err != nil {
		return HarvestResult{}, err
	}
	next.LastHarvestTime = now

	apy := sdkmath.ZeroInt()
	if period > 0 && baseAssets.IsPositive() {
		if apy, err = EstimateAPY(rewards, baseAssets, period); err != nil {
			return HarvestResult{}, err
		}
	}

	*vault = next
	result := HarvestResult{
		VaultID:        vault.VaultID,
		Rewards:        rewards,
		ManagementFee:  mgmtFee,
		PerformanceFee: perfFee,
		APYBps:         apy,
		NavPerShare:    NavPerShare(vault.TotalAssets, vault.TotalShares),
		HighWaterMark:  vault.HighWaterMark,
		HarvestTime:    now,
	}
	ledgerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("rewards", rewards.String()).
		Str("management_fee", mgmtFee.String()).
		Str("performance_fee", perfFee.String()).
		Str("apy_bps", apy.String()).
		Msg("Harvest settled")
	return result, nil
}

// CollectFees empties both accrued fee buckets and returns the amounts owed
// to the treasury. Only the protocol authority may collect; the transfer
// itself happens outside the ledger.
func CollectFees(vault *types.VaultLedger, cfg *types.ProtocolConfig, caller string) (sdkmath.Int, sdkmath.Int, error) {
	if err := validateLedger(vault); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if cfg == nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("protocol config is nil"))
	}
	if caller == "" || caller != cfg.Authority {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), errors.Join(types.ErrUnauthorized, fmt.Errorf("caller %q cannot collect fees", caller))
	}

	mgmt := vault.AccruedManagementFees
	perf := vault.AccruedPerformanceFees
	vault.AccruedManagementFees = sdkmath.ZeroInt()
	vault.AccruedPerformanceFees = sdkmath.ZeroInt()

	ledgerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("management_fees", mgmt.String()).
		Str("performance_fees", perf.String()).
		Msg("Fees collected")
	return mgmt, perf, nil
}

// EstimateAPY annualizes a reward period into basis points:
// floor(rewards * seconds_per_year * 10000 / (total_assets * period)).
func EstimateAPY(rewards, totalAssets sdkmath.Int, periodSeconds int64) (sdkmath.Int, error) {
	if rewards.IsNil() || rewards.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("rewards must be non-negative"))
	}
	if totalAssets.IsNil() || !totalAssets.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("total assets must be positive"))
	}
	if periodSeconds <= 0 {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, fmt.Errorf("period %d must be positive", periodSeconds))
	}

	denom, err := utils.CheckedMul(totalAssets, sdkmath.NewInt(periodSeconds))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MulDivFloor(rewards, sdkmath.NewInt(types.SecondsPerYear*int64(types.BpsDenominator)), denom)
}
