// ./internal/state/position_store.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/types"
)

// positionUpsertStmt is shared by UpsertPosition and the transactional
// liquidation path in receipts_store.go so both persist identical rows.
const positionUpsertStmt = `
	INSERT INTO positions (vault_id, owner, shares, collateral, debt, state, last_update_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (vault_id, owner) DO UPDATE SET
		shares = EXCLUDED.shares,
		collateral = EXCLUDED.collateral,
		debt = EXCLUDED.debt,
		state = EXCLUDED.state,
		last_update_time = EXCLUDED.last_update_time;`

func positionUpsertArgs(position types.PositionLedger) []any {
	return []any{
		position.VaultID, position.Owner,
		position.Shares.String(), position.Collateral.String(), position.Debt.String(),
		string(position.State), position.LastUpdateTime,
	}
}

// UpsertPosition writes a leveraged position row.
func UpsertPosition(position types.PositionLedger) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := DB.Exec(positionUpsertStmt, positionUpsertArgs(position)...)
	if err != nil {
		return fmt.Errorf("failed to upsert position for %s in vault %d: %w", position.Owner, position.VaultID, err)
	}

	log.Debug().
		Uint64("vault_id", uint64(position.VaultID)).
		Str("owner", position.Owner).
		Str("state", string(position.State)).
		Msg("Saved position")
	return nil
}

// LoadPosition loads a position by vault and owner.
// Returns (nil, nil) when the owner has never opened a position.
func LoadPosition(vaultID types.VaultID, owner string) (*types.PositionLedger, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := positionSelectColumns + ` FROM positions WHERE vault_id = $1 AND owner = $2;`

	row := DB.QueryRow(query, vaultID, owner)
	position, err := scanPositionRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load position for %s in vault %d: %w", owner, vaultID, err)
	}
	return position, nil
}

// ListOpenPositions returns every position in a vault that has not been
// terminally liquidated, ordered by owner for deterministic sweeps.
func ListOpenPositions(vaultID types.VaultID) ([]types.PositionLedger, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := positionSelectColumns + `
		FROM positions
		WHERE vault_id = $1 AND state != $2
		ORDER BY owner ASC;`

	rows, err := DB.Query(query, vaultID, string(types.PositionLiquidated))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions for vault %d: %w", vaultID, err)
	}
	defer rows.Close()

	positions, err := collectPositionRows(rows)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Uint64("vault_id", uint64(vaultID)).
		Int("count", len(positions)).
		Msg("Loaded open positions")
	return positions, nil
}

// ListPositionsByState returns every position in a given state across all
// vaults, ordered by vault then owner.
func ListPositionsByState(positionState types.PositionState) ([]types.PositionLedger, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := positionSelectColumns + `
		FROM positions
		WHERE state = $1
		ORDER BY vault_id ASC, owner ASC;`

	rows, err := DB.Query(query, string(positionState))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions in state %s: %w", positionState, err)
	}
	defer rows.Close()

	return collectPositionRows(rows)
}

const positionSelectColumns = `
	SELECT vault_id, owner, shares, collateral, debt, state, last_update_time`

func scanPositionRow(scan func(dest ...any) error) (*types.PositionLedger, error) {
	var (
		position   types.PositionLedger
		shares     string
		collateral string
		debt       string
		posState   string
	)

	err := scan(
		&position.VaultID, &position.Owner,
		&shares, &collateral, &debt,
		&posState, &position.LastUpdateTime,
	)
	if err != nil {
		return nil, err
	}

	position.State = types.PositionState(posState)

	if position.Shares, err = parseIntColumn(shares, "shares"); err != nil {
		return nil, err
	}
	if position.Collateral, err = parseIntColumn(collateral, "collateral"); err != nil {
		return nil, err
	}
	if position.Debt, err = parseIntColumn(debt, "debt"); err != nil {
		return nil, err
	}
	return &position, nil
}

func collectPositionRows(rows *sql.Rows) ([]types.PositionLedger, error) {
	var positions []types.PositionLedger
	for rows.Next() {
		position, err := scanPositionRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, *position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during position row iteration: %w", err)
	}
	return positions, nil
}
