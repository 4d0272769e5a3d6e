// ./internal/state/receipts_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/ledger"
	"github.com/meridian-labs/vre/internal/risk"
	"github.com/meridian-labs/vre/internal/types"
)

// SaveHarvestReceipt records the outcome of a completed harvest.
func SaveHarvestReceipt(result ledger.HarvestResult) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO harvest_receipts (
			vault_id, harvest_time, rewards, management_fee, performance_fee,
			apy_bps, nav_per_share, high_water_mark
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(stmt,
		result.VaultID, result.HarvestTime,
		result.Rewards.String(), result.ManagementFee.String(), result.PerformanceFee.String(),
		result.APYBps.String(), result.NavPerShare.String(), result.HighWaterMark.String(),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save harvest receipt for vault %d: %w", result.VaultID, err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Uint64("vault_id", uint64(result.VaultID)).
		Str("rewards", result.Rewards.String()).
		Msg("Harvest receipt saved")
	return receiptID, nil
}

// ListHarvestReceipts returns the most recent harvest receipts for a vault.
func ListHarvestReceipts(vaultID types.VaultID, limit int) ([]ledger.HarvestResult, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT vault_id, harvest_time, rewards, management_fee, performance_fee,
			apy_bps, nav_per_share, high_water_mark
		FROM harvest_receipts
		WHERE vault_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2;`

	rows, err := DB.Query(query, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest receipts for vault %d: %w", vaultID, err)
	}
	defer rows.Close()

	var receipts []ledger.HarvestResult
	for rows.Next() {
		var (
			result   ledger.HarvestResult
			rewards  string
			mgmtFee  string
			perfFee  string
			apyBps   string
			nav      string
			highMark string
		)
		err := rows.Scan(
			&result.VaultID, &result.HarvestTime,
			&rewards, &mgmtFee, &perfFee,
			&apyBps, &nav, &highMark,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest receipt row: %w", err)
		}

		if result.Rewards, err = parseIntColumn(rewards, "rewards"); err != nil {
			return nil, err
		}
		if result.ManagementFee, err = parseIntColumn(mgmtFee, "management_fee"); err != nil {
			return nil, err
		}
		if result.PerformanceFee, err = parseIntColumn(perfFee, "performance_fee"); err != nil {
			return nil, err
		}
		if result.APYBps, err = parseIntColumn(apyBps, "apy_bps"); err != nil {
			return nil, err
		}
		if result.NavPerShare, err = parseIntColumn(nav, "nav_per_share"); err != nil {
			return nil, err
		}
		if result.HighWaterMark, err = parseIntColumn(highMark, "high_water_mark"); err != nil {
			return nil, err
		}
		receipts = append(receipts, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during harvest receipt iteration: %w", err)
	}
	return receipts, nil
}

// SaveLiquidationReceipt records the outcome of an executed liquidation.
func SaveLiquidationReceipt(result risk.LiquidationResult) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO liquidation_receipts (
			vault_id, owner, executed_at, repaid, seized, shares_burned,
			full_liquidation, health_after, state_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(stmt,
		result.VaultID, result.Owner, result.ExecutedAt,
		result.Repaid.String(), result.Seized.String(), result.SharesBurned.String(),
		result.Full, result.HealthAfter.String(), string(result.State),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save liquidation receipt for %s in vault %d: %w", result.Owner, result.VaultID, err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Uint64("vault_id", uint64(result.VaultID)).
		Str("owner", result.Owner).
		Bool("full", result.Full).
		Msg("Liquidation receipt saved")
	return receiptID, nil
}

// PersistLiquidation commits an executed liquidation in a single transaction:
// the vault ledger with the seized shares burned, the position with its
// reduced debt and new state, and the receipt. Either all three land or none
// do, so a crash mid-write can never leave the vault and the position
// disagreeing about how much was seized.
func PersistLiquidation(vault types.VaultLedger, position types.PositionLedger, result risk.LiquidationResult) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	vaultArgs, err := vaultUpsertArgs(vault)
	if err != nil {
		return 0, err
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
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
		return 0, fmt.Errorf("failed to save vault %d for liquidation of %s: %w", vault.VaultID, position.Owner, err)
	}

	_, err = tx.Exec(positionUpsertStmt, positionUpsertArgs(position)...)
	if err != nil {
		return 0, fmt.Errorf("failed to save position for %s in vault %d: %w", position.Owner, position.VaultID, err)
	}

	stmt := `
		INSERT INTO liquidation_receipts (
			vault_id, owner, executed_at, repaid, seized, shares_burned,
			full_liquidation, health_after, state_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING receipt_id;`

	var receiptID int64
	err = tx.QueryRow(stmt,
		result.VaultID, result.Owner, result.ExecutedAt,
		result.Repaid.String(), result.Seized.String(), result.SharesBurned.String(),
		result.Full, result.HealthAfter.String(), string(result.State),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save liquidation receipt for %s in vault %d: %w", result.Owner, result.VaultID, err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit liquidation transaction: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("owner", result.Owner).
		Str("repaid", result.Repaid.String()).
		Str("seized", result.Seized.String()).
		Bool("full", result.Full).
		Msg("Liquidation committed")
	return receiptID, nil
}

// RecordEvent appends a domain event to the audit trail.
func RecordEvent(event types.Event) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	attributesJSON, err := json.Marshal(event.Attributes)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event attributes: %w", err)
	}

	stmt := `
		INSERT INTO events (event_type, vault_id, owner, attributes, event_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING event_id;`

	var eventID int64
	err = DB.QueryRow(stmt,
		string(event.Type), event.VaultID, event.Owner, attributesJSON, event.Timestamp,
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return eventID, nil
}

// GetRecentEvents returns the most recent events, newest first.
func GetRecentEvents(limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 20 // Default limit
	}

	query := `
		SELECT event_id, event_type, vault_id, owner, attributes, event_timestamp
		FROM events
		ORDER BY recorded_at DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			event          types.Event
			eventType      string
			attributesJSON []byte
		)
		if err := rows.Scan(&event.EventID, &eventType, &event.VaultID, &event.Owner, &attributesJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		event.Type = types.EventType(eventType)
		if len(attributesJSON) > 0 {
			if err := json.Unmarshal(attributesJSON, &event.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes for event %d: %w", event.EventID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during event iteration: %w", err)
	}
	return events, nil
}
