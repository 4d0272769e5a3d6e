/*

Package ledger implements deterministic share accounting and fee accrual for
vault ledgers. Every operation validates its inputs, computes on a copy of
the ledger and commits only on success, so a failed call never leaves a
partially mutated record. All math is integer-only with explicit floors.

Callers must serialize operations per vault: the package assumes a single
writer per VaultLedger and performs no locking of its own.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/types"
)

var ledgerLogger = logger.GetForComponent("ledger")

// NavPerShare returns floor(assets / shares), the net asset value of one
// share in underlying units. Zero when no shares exist.
func NavPerShare(totalAssets, totalShares sdkmath.Int) sdkmath.Int {
	if totalShares.IsNil() || totalShares.IsZero() || totalAssets.IsNil() {
		return sdkmath.ZeroInt()
	}
	return totalAssets.Quo(totalShares)
}

// validateLedger rejects ledgers with nil or negative monetary fields before
// any arithmetic touches them.
func validateLedger(vault *types.VaultLedger) error {
	if vault == nil {
		return errors.Join(types.ErrValidation, errors.New("vault ledger is nil"))
	}
	for name, v := range map[string]sdkmath.Int{
		"total_assets":             vault.TotalAssets,
		"total_shares":             vault.TotalShares,
		"high_water_mark":          vault.HighWaterMark,
		"accrued_management_fees":  vault.AccruedManagementFees,
		"accrued_performance_fees": vault.AccruedPerformanceFees,
		"min_deposit":              vault.MinDeposit,
	} {
		if v.IsNil() {
			return errors.Join(types.ErrValidation, fmt.Errorf("vault %d: %s is nil", vault.VaultID, name))
		}
		if v.IsNegative() {
			return errors.Join(types.ErrValidation, fmt.Errorf("vault %d: %s is negative", vault.VaultID, name))
		}
	}
	return nil
}
