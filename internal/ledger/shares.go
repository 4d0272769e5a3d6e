/*

This file contains share issuance and redemption. Both directions floor in
the vault's favor: a depositor never receives more shares than their assets
are worth, a withdrawer never receives more assets than their shares are
worth.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"
)

// Deposit mints shares for an asset contribution. The first deposit into an
// empty vault bootstraps share supply 1:1; afterwards shares are issued
// pro-rata at floor(amount * total_shares / total_assets).
func Deposit(vault *types.VaultLedger, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := validateLedger(vault); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("deposit amount must be positive"))
	}
	if vault.Paused {
		return sdkmath.ZeroInt(), errors.Join(types.ErrVaultPaused, fmt.Errorf("vault %d does not accept deposits", vault.VaultID))
	}
	if amount.LT(vault.MinDeposit) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrBelowMinimumDeposit, fmt.Errorf("amount %s below minimum %s", amount, vault.MinDeposit))
	}

	next := vault.Clone()

	var minted sdkmath.Int
	if next.TotalShares.IsZero() {
		minted = amount
	} else {
		var err error
		minted, err = utils.MulDivFloor(amount, next.TotalShares, next.TotalAssets)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	if minted.IsZero() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrDustResult, fmt.Errorf("amount %s mints zero shares at supply %s / assets %s", amount, next.TotalShares, next.TotalAssets))
	}

	var err error
	if next.TotalAssets, err = utils.CheckedAdd(next.TotalAssets, amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if next.TotalShares, err = utils.CheckedAdd(next.TotalShares, minted); err != nil {
		return sdkmath.ZeroInt(), err
	}

	// First settlement baseline: an untouched high-water mark starts at the
	// NAV the depositor just paid.
	if next.HighWaterMark.IsZero() {
		next.HighWaterMark = NavPerShare(next.TotalAssets, next.TotalShares)
	}

	*vault = next
	ledgerLogger.Debug().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("amount", amount.String()).
		Str("shares_minted", minted.String()).
		Msg("Deposit settled")
	return minted, nil
}

// Withdraw redeems shares for assets at floor(shares * total_assets /
// total_shares). callerBalance is the redeeming account's share balance;
// redemptions above it are rejected before any math runs.
func Withdraw(vault *types.VaultLedger, shares, callerBalance sdkmath.Int) (sdkmath.Int, error) {
	if err := validateLedger(vault); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, errors.New("share amount must be positive"))
	}
	if callerBalance.IsNil() || shares.GT(callerBalance) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInsufficientFunds, fmt.Errorf("redeeming %s shares against balance %s", shares, callerBalance))
	}
	if shares.GT(vault.TotalShares) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInsufficientFunds, fmt.Errorf("redeeming %s shares against supply %s", shares, vault.TotalShares))
	}

	next := vault.Clone()

	assets, err := utils.MulDivFloor(shares, next.TotalAssets, next.TotalShares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assets.IsZero() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrDustResult, fmt.Errorf("%s shares redeem zero assets at supply %s / assets %s", shares, next.TotalShares, next.TotalAssets))
	}

	if next.TotalAssets, err = utils.CheckedSub(next.TotalAssets, assets); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if next.TotalShares, err = utils.CheckedSub(next.TotalShares, shares); err != nil {
		return sdkmath.ZeroInt(), err
	}

	*vault = next
	ledgerLogger.Debug().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("shares", shares.String()).
		Str("assets_out", assets.String()).
		Msg("Withdrawal settled")
	return assets, nil
}
