// ./internal/state/flow_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/types"
)

// WasFlowApplied reports whether a settled custody flow has already been
// applied to the vault ledger. The engine checks this before applying so a
// re-delivered flow is acknowledged without moving money twice.
func WasFlowApplied(flowID string) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialized")
	}
	if flowID == "" {
		return false, fmt.Errorf("flow ID cannot be empty")
	}

	var exists bool
	err := DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM applied_flows WHERE flow_id = $1);`, flowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check applied flow %s: %w", flowID, err)
	}
	return exists, nil
}

// PersistAppliedFlow commits the full effect of one settled flow in a single
// transaction: the updated vault ledger, the account's new share balance and
// the idempotency row. Either all three land or none do, so a crash between
// applying and acknowledging can never split the books.
func PersistAppliedFlow(vault types.VaultLedger, balance types.ShareBalance, flowID string, direction string, amount sdkmath.Int, denom string, settledAt int64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if flowID == "" {
		return fmt.Errorf("flow ID cannot be empty")
	}
	if amount.IsNil() {
		return fmt.Errorf("flow amount cannot be nil")
	}

	vaultArgs, err := vaultUpsertArgs(vault)
	if err != nil {
		return err
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	_, err = tx.Exec(vaultUpsertStmt, vaultArgs...)
	if err != nil {
		return fmt.Errorf("failed to save vault %d for flow %s: %w", vault.VaultID, flowID, err)
	}

	_, err = tx.Exec(shareBalanceUpsertStmt, balance.VaultID, balance.Account, balance.Shares.String())
	if err != nil {
		return fmt.Errorf("failed to save share balance for flow %s: %w", flowID, err)
	}

	stmtFlow := `
		INSERT INTO applied_flows (flow_id, vault_id, account, direction, amount, denom, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err = tx.Exec(stmtFlow, flowID, vault.VaultID, balance.Account, direction, amount.String(), denom, settledAt)
	if err != nil {
		return fmt.Errorf("failed to record applied flow %s: %w", flowID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit flow %s: %w", flowID, err)
	}

	log.Info().
		Str("flow_id", flowID).
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("account", balance.Account).
		Str("direction", direction).
		Str("amount", amount.String()).
		Msg("Settled flow applied")
	return nil
}

// CountAppliedFlows returns how many flows have been applied to a vault.
func CountAppliedFlows(vaultID types.VaultID) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var count int
	err := DB.QueryRow(`SELECT COUNT(*) FROM applied_flows WHERE vault_id = $1;`, vaultID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count applied flows for vault %d: %w", vaultID, err)
	}
	return count, nil
}
