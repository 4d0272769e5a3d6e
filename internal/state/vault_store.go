// ./internal/state/vault_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
)

// SaveProtocolConfig upserts the single protocol configuration row.
func SaveProtocolConfig(cfg types.ProtocolConfig) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO protocol_config (
			id, authority, treasury, default_management_fee_bps, default_performance_fee_bps, paused, vault_count, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			authority = EXCLUDED.authority,
			treasury = EXCLUDED.treasury,
			default_management_fee_bps = EXCLUDED.default_management_fee_bps,
			default_performance_fee_bps = EXCLUDED.default_performance_fee_bps,
			paused = EXCLUDED.paused,
			vault_count = EXCLUDED.vault_count,
			updated_at = CURRENT_TIMESTAMP;`

	_, err := DB.Exec(stmt,
		cfg.Authority, cfg.Treasury,
		cfg.DefaultManagementFeeBps, cfg.DefaultPerformanceFeeBps,
		cfg.Paused, cfg.VaultCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save protocol config: %w", err)
	}

	log.Debug().
		Str("authority", cfg.Authority).
		Uint64("vault_count", cfg.VaultCount).
		Bool("paused", cfg.Paused).
		Msg("Saved protocol config")
	return nil
}

// LoadProtocolConfig loads the protocol configuration row.
// Returns (nil, nil) when no row exists yet so callers can seed defaults.
func LoadProtocolConfig() (*types.ProtocolConfig, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT authority, treasury, default_management_fee_bps, default_performance_fee_bps, paused, vault_count
		FROM protocol_config
		WHERE id = 1;`

	cfg := &types.ProtocolConfig{}
	err := DB.QueryRow(query).Scan(
		&cfg.Authority, &cfg.Treasury,
		&cfg.DefaultManagementFeeBps, &cfg.DefaultPerformanceFeeBps,
		&cfg.Paused, &cfg.VaultCount,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug().Msg("No protocol config row found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load protocol config: %w", err)
	}
	return cfg, nil
}

// vaultUpsertStmt is shared by SaveVault and the transactional flow path in
// flow_store.go so both persist identical rows.
const vaultUpsertStmt = `
	INSERT INTO vaults (
		vault_id, strategy, asset_denom, share_denom,
		total_assets, total_shares,
		management_fee_bps, performance_fee_bps, high_water_mark,
		accrued_management_fees, accrued_performance_fees,
		leverage_cap_bps, current_leverage_bps, collateral_factor_bps, liquidation_threshold_bps,
		target_allocations, rebalance_threshold_bps,
		harvest_cooldown_seconds, rebalance_cooldown_seconds, last_harvest_time, last_rebalance_time,
		min_deposit, paused, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6,
		$7, $8, $9,
		$10, $11,
		$12, $13, $14, $15,
		$16, $17,
		$18, $19, $20, $21,
		$22, $23, $24, CURRENT_TIMESTAMP
	)
	ON CONFLICT (vault_id) DO UPDATE SET
		strategy = EXCLUDED.strategy,
		asset_denom = EXCLUDED.asset_denom,
		share_denom = EXCLUDED.share_denom,
		total_assets = EXCLUDED.total_assets,
		total_shares = EXCLUDED.total_shares,
		management_fee_bps = EXCLUDED.management_fee_bps,
		performance_fee_bps = EXCLUDED.performance_fee_bps,
		high_water_mark = EXCLUDED.high_water_mark,
		accrued_management_fees = EXCLUDED.accrued_management_fees,
		accrued_performance_fees = EXCLUDED.accrued_performance_fees,
		leverage_cap_bps = EXCLUDED.leverage_cap_bps,
		current_leverage_bps = EXCLUDED.current_leverage_bps,
		collateral_factor_bps = EXCLUDED.collateral_factor_bps,
		liquidation_threshold_bps = EXCLUDED.liquidation_threshold_bps,
		target_allocations = EXCLUDED.target_allocations,
		rebalance_threshold_bps = EXCLUDED.rebalance_threshold_bps,
		harvest_cooldown_seconds = EXCLUDED.harvest_cooldown_seconds,
		rebalance_cooldown_seconds = EXCLUDED.rebalance_cooldown_seconds,
		last_harvest_time = EXCLUDED.last_harvest_time,
		last_rebalance_time = EXCLUDED.last_rebalance_time,
		min_deposit = EXCLUDED.min_deposit,
		paused = EXCLUDED.paused,
		created_at = EXCLUDED.created_at,
		updated_at = CURRENT_TIMESTAMP;`

// vaultUpsertArgs builds the argument list for vaultUpsertStmt.
func vaultUpsertArgs(vault types.VaultLedger) ([]any, error) {
	allocationsJSON, err := json.Marshal(vault.TargetAllocations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal target_allocations for vault %d: %w", vault.VaultID, err)
	}
	return []any{
		vault.VaultID, string(vault.Strategy), vault.AssetDenom, vault.ShareDenom,
		vault.TotalAssets.String(), vault.TotalShares.String(),
		vault.ManagementFeeBps, vault.PerformanceFeeBps, vault.HighWaterMark.String(),
		vault.AccruedManagementFees.String(), vault.AccruedPerformanceFees.String(),
		vault.LeverageCapBps, vault.CurrentLeverageBps, vault.CollateralFactorBps, vault.LiquidationThresholdBps,
		allocationsJSON, vault.RebalanceThresholdBps,
		vault.HarvestCooldownSeconds, vault.RebalanceCooldownSeconds, vault.LastHarvestTime, vault.LastRebalanceTime,
		vault.MinDeposit.String(), vault.Paused, vault.CreatedAt,
	}, nil
}

// SaveVault upserts a vault ledger row.
func SaveVault(vault types.VaultLedger) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	args, err := vaultUpsertArgs(vault)
	if err != nil {
		return err
	}

	_, err = DB.Exec(vaultUpsertStmt, args...)
	if err != nil {
		return fmt.Errorf("failed to save vault %d: %w", vault.VaultID, err)
	}

	log.Debug().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("total_assets", vault.TotalAssets.String()).
		Str("total_shares", vault.TotalShares.String()).
		Msg("Saved vault ledger")
	return nil
}

// LoadVault loads a single vault ledger by ID.
func LoadVault(vaultID types.VaultID) (*types.VaultLedger, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := vaultSelectColumns + ` FROM vaults WHERE vault_id = $1;`

	row := DB.QueryRow(query, vaultID)
	vault, err := scanVaultRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("vault %d", vaultID))
		}
		return nil, fmt.Errorf("failed to load vault %d: %w", vaultID, err)
	}
	return vault, nil
}

// LoadAllVaults loads every vault ledger, ordered by ID.
func LoadAllVaults() ([]types.VaultLedger, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := vaultSelectColumns + ` FROM vaults ORDER BY vault_id ASC;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query vaults: %w", err)
	}
	defer rows.Close()

	var vaults []types.VaultLedger
	for rows.Next() {
		vault, err := scanVaultRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault row: %w", err)
		}
		vaults = append(vaults, *vault)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during vault row iteration: %w", err)
	}

	log.Debug().Int("count", len(vaults)).Msg("Loaded vault ledgers")
	return vaults, nil
}

const vaultSelectColumns = `
	SELECT
		vault_id, strategy, asset_denom, share_denom,
		total_assets, total_shares,
		management_fee_bps, performance_fee_bps, high_water_mark,
		accrued_management_fees, accrued_performance_fees,
		leverage_cap_bps, current_leverage_bps, collateral_factor_bps, liquidation_threshold_bps,
		target_allocations, rebalance_threshold_bps,
		harvest_cooldown_seconds, rebalance_cooldown_seconds, last_harvest_time, last_rebalance_time,
		min_deposit, paused, created_at`

// scanVaultRow decodes one vault row. The scan argument abstracts over
// sql.Row and sql.Rows.
func scanVaultRow(scan func(dest ...any) error) (*types.VaultLedger, error) {
	var (
		vault           types.VaultLedger
		strategy        string
		totalAssets     string
		totalShares     string
		highWaterMark   string
		accruedMgmt     string
		accruedPerf     string
		minDeposit      string
		allocationsJSON []byte
	)

	err := scan(
		&vault.VaultID, &strategy, &vault.AssetDenom, &vault.ShareDenom,
		&totalAssets, &totalShares,
		&vault.ManagementFeeBps, &vault.PerformanceFeeBps, &highWaterMark,
		&accruedMgmt, &accruedPerf,
		&vault.LeverageCapBps, &vault.CurrentLeverageBps, &vault.CollateralFactorBps, &vault.LiquidationThresholdBps,
		&allocationsJSON, &vault.RebalanceThresholdBps,
		&vault.HarvestCooldownSeconds, &vault.RebalanceCooldownSeconds, &vault.LastHarvestTime, &vault.LastRebalanceTime,
		&minDeposit, &vault.Paused, &vault.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	vault.Strategy = types.Strategy(strategy)

	if vault.TotalAssets, err = parseIntColumn(totalAssets, "total_assets"); err != nil {
		return nil, err
	}
	if vault.TotalShares, err = parseIntColumn(totalShares, "total_shares"); err != nil {
		return nil, err
	}
	if vault.HighWaterMark, err = parseIntColumn(highWaterMark, "high_water_mark"); err != nil {
		return nil, err
	}
	if vault.AccruedManagementFees, err = parseIntColumn(accruedMgmt, "accrued_management_fees"); err != nil {
		return nil, err
	}
	if vault.AccruedPerformanceFees, err = parseIntColumn(accruedPerf, "accrued_performance_fees"); err != nil {
		return nil, err
	}
	if vault.MinDeposit, err = parseIntColumn(minDeposit, "min_deposit"); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(allocationsJSON, &vault.TargetAllocations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target_allocations: %w", err)
	}

	return &vault, nil
}

// shareBalanceUpsertStmt is shared by UpsertShareBalance and the
// transactional flow path in flow_store.go.
const shareBalanceUpsertStmt = `
	INSERT INTO share_balances (vault_id, account, shares, updated_at)
	VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
	ON CONFLICT (vault_id, account) DO UPDATE SET
		shares = EXCLUDED.shares,
		updated_at = CURRENT_TIMESTAMP;`

// UpsertShareBalance writes an account's share balance for a vault.
func UpsertShareBalance(balance types.ShareBalance) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(shareBalanceUpsertStmt, balance.VaultID, balance.Account, balance.Shares.String())
	if err != nil {
		return fmt.Errorf("failed to upsert share balance for %s in vault %d: %w", balance.Account, balance.VaultID, err)
	}
	return nil
}

// GetShareBalance returns an account's share balance for a vault.
// Accounts with no row hold zero shares.
func GetShareBalance(vaultID types.VaultID, account string) (types.ShareBalance, error) {
	balance := types.ShareBalance{VaultID: vaultID, Account: account, Shares: sdkmath.ZeroInt()}
	if DB == nil {
		return balance, fmt.Errorf("database not initialized")
	}

	query := `SELECT shares FROM share_balances WHERE vault_id = $1 AND account = $2;`

	var shares string
	err := DB.QueryRow(query, vaultID, account).Scan(&shares)
	if err != nil {
		if err == sql.ErrNoRows {
			return balance, nil
		}
		return balance, fmt.Errorf("failed to load share balance for %s in vault %d: %w", account, vaultID, err)
	}

	balance.Shares, err = parseIntColumn(shares, "shares")
	if err != nil {
		return balance, err
	}
	return balance, nil
}

// ListShareBalances returns every non-zero share balance for a vault.
func ListShareBalances(vaultID types.VaultID) ([]types.ShareBalance, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT account, shares FROM share_balances
		WHERE vault_id = $1 AND shares > 0
		ORDER BY account ASC;`

	rows, err := DB.Query(query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query share balances for vault %d: %w", vaultID, err)
	}
	defer rows.Close()

	var balances []types.ShareBalance
	for rows.Next() {
		balance := types.ShareBalance{VaultID: vaultID}
		var shares string
		if err := rows.Scan(&balance.Account, &shares); err != nil {
			return nil, fmt.Errorf("failed to scan share balance row: %w", err)
		}
		if balance.Shares, err = parseIntColumn(shares, "shares"); err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during share balance iteration: %w", err)
	}
	return balances, nil
}
