// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/ledger"
	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/risk"
	"github.com/meridian-labs/vre/internal/types"
)

// CycleSnapshot captures one full engine cycle: the vault ledgers before,
// everything the cycle did, and the ledgers after.
type CycleSnapshot struct {
	SnapshotID   int64     `json:"snapshot_id"`
	CycleNumber  int       `json:"cycle_number"`
	CycleID      string    `json:"cycle_id"`
	Timestamp    time.Time `json:"timestamp"`
	RiskParamsID *int64    `json:"risk_params_id,omitempty"`

	VaultsBefore []types.VaultLedger `json:"vaults_before"`

	Harvests     []ledger.HarvestResult   `json:"harvests"`
	Liquidations []risk.LiquidationResult `json:"liquidations"`
	Rebalances   []planner.Evaluation     `json:"rebalances"`

	InstructionHashes []string `json:"instruction_hashes"`

	VaultsAfter  []types.VaultLedger `json:"vaults_after"`
	DurationMs   int64               `json:"duration_ms"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(snapshot CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Marshal all JSONB fields
	vaultsBeforeJSON, err := json.Marshal(snapshot.VaultsBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vaults_before: %w", err)
	}

	vaultsAfterJSON, err := json.Marshal(snapshot.VaultsAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vaults_after: %w", err)
	}

	harvestsJSON, err := json.Marshal(snapshot.Harvests)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal harvests: %w", err)
	}

	liquidationsJSON, err := json.Marshal(snapshot.Liquidations)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal liquidations: %w", err)
	}

	rebalancesJSON, err := json.Marshal(snapshot.Rebalances)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal rebalances: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, risk_params_id,
			vaults_before,
			harvests, liquidations, rebalances,
			instruction_hashes,
			vaults_after, duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp, snapshot.RiskParamsID,
		vaultsBeforeJSON,
		harvestsJSON, liquidationsJSON, rebalancesJSON,
		pq.Array(snapshot.InstructionHashes),
		vaultsAfterJSON, snapshot.DurationMs, nullableText(snapshot.ErrorMessage),
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("cycle_id", snapshot.CycleID).
		Int("harvests", len(snapshot.Harvests)).
		Int("liquidations", len(snapshot.Liquidations)).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
