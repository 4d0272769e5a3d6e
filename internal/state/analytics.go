package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/utils"
)

// AssetTotal is one denom's share of assets under management, in display units.
type AssetTotal struct {
	Denom  string  `json:"denom"`
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
}

// ProtocolSummary represents high-level protocol statistics
type ProtocolSummary struct {
	TotalVaults           int          `json:"total_vaults"`
	PausedVaults          int          `json:"paused_vaults"`
	OpenPositions         int          `json:"open_positions"`
	TotalCycles           int          `json:"total_cycles"`
	AssetsUnderManagement []AssetTotal `json:"assets_under_management"`
	LastUpdated           string       `json:"last_updated"`
}

// PerformanceMetrics represents aggregated fee and liquidation activity
type PerformanceMetrics struct {
	HarvestCount         int     `json:"harvest_count"`
	LiquidationCount     int     `json:"liquidation_count"`
	FullLiquidationCount int     `json:"full_liquidation_count"`
	AvgAPYBps            float64 `json:"avg_apy_bps"`
	TotalCycles          int     `json:"total_cycles"`
	FailedCycles         int     `json:"failed_cycles"`
}

// GetRecentCycles retrieves recent cycle snapshots with pagination
func GetRecentCycles(limit int) ([]CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			snapshot_id, cycle_number, cycle_id, snapshot_timestamp, risk_params_id,
			vaults_before,
			harvests, liquidations, rebalances,
			instruction_hashes,
			vaults_after, duration_ms, error_message
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent cycles")
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var cycles []CycleSnapshot
	for rows.Next() {
		cycle, err := scanCycleRow(rows.Scan)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan cycle row")
			continue // Skip this row and continue with others
		}
		cycles = append(cycles, *cycle)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Info().Int("count", len(cycles)).Int("limit", limit).Msg("Retrieved recent cycles")
	return cycles, nil
}

// GetCycleByID retrieves a specific cycle by its ID
func GetCycleByID(snapshotID int64) (*CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			snapshot_id, cycle_number, cycle_id, snapshot_timestamp, risk_params_id,
			vaults_before,
			harvests, liquidations, rebalances,
			instruction_hashes,
			vaults_after, duration_ms, error_message
		FROM cycle_snapshots
		WHERE snapshot_id = $1
	`

	row := DB.QueryRow(query, snapshotID)
	cycle, err := scanCycleRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("cycle snapshot %d", snapshotID))
		}
		log.Error().Err(err).Int64("snapshot_id", snapshotID).Msg("Failed to query cycle by ID")
		return nil, fmt.Errorf("failed to query cycle by ID: %w", err)
	}

	log.Info().Int64("snapshot_id", snapshotID).Int("cycle_number", cycle.CycleNumber).Msg("Retrieved cycle by ID")
	return cycle, nil
}

// scanCycleRow decodes one cycle snapshot row, unmarshalling the JSONB fields.
func scanCycleRow(scan func(dest ...any) error) (*CycleSnapshot, error) {
	var (
		cycle            CycleSnapshot
		vaultsBeforeJSON []byte
		harvestsJSON     []byte
		liquidationsJSON []byte
		rebalancesJSON   []byte
		vaultsAfterJSON  []byte
		errorMessage     sql.NullString
	)

	err := scan(
		&cycle.SnapshotID, &cycle.CycleNumber, &cycle.CycleID, &cycle.Timestamp, &cycle.RiskParamsID,
		&vaultsBeforeJSON,
		&harvestsJSON, &liquidationsJSON, &rebalancesJSON,
		pq.Array(&cycle.InstructionHashes), // Use pq.Array for PostgreSQL array
		&vaultsAfterJSON, &cycle.DurationMs, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		cycle.ErrorMessage = errorMessage.String
	}

	jsonFields := []struct {
		name string
		raw  []byte
		dest any
	}{
		{"vaults_before", vaultsBeforeJSON, &cycle.VaultsBefore},
		{"harvests", harvestsJSON, &cycle.Harvests},
		{"liquidations", liquidationsJSON, &cycle.Liquidations},
		{"rebalances", rebalancesJSON, &cycle.Rebalances},
		{"vaults_after", vaultsAfterJSON, &cycle.VaultsAfter},
	}
	for _, field := range jsonFields {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
		}
	}

	return &cycle, nil
}

// GetProtocolSummary retrieves high-level protocol statistics
func GetProtocolSummary() (*ProtocolSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &ProtocolSummary{}

	err := DB.QueryRow(`SELECT COUNT(*), COUNT(CASE WHEN paused THEN 1 END) FROM vaults`).
		Scan(&summary.TotalVaults, &summary.PausedVaults)
	if err != nil {
		return nil, fmt.Errorf("failed to count vaults: %w", err)
	}

	err = DB.QueryRow(`SELECT COUNT(*) FROM positions WHERE state != 'LIQUIDATED'`).
		Scan(&summary.OpenPositions)
	if err != nil {
		return nil, fmt.Errorf("failed to count open positions: %w", err)
	}

	err = DB.QueryRow(`SELECT COUNT(*) FROM cycle_snapshots`).Scan(&summary.TotalCycles)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get total cycle count")
	}

	// Assets under management, aggregated per denom and converted to display units.
	rows, err := DB.Query(`
		SELECT asset_denom, SUM(total_assets)
		FROM vaults
		GROUP BY asset_denom
		ORDER BY asset_denom ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate assets under management: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var denom, rawTotal string
		if err := rows.Scan(&denom, &rawTotal); err != nil {
			return nil, fmt.Errorf("failed to scan asset total row: %w", err)
		}
		total, err := parseIntColumn(rawTotal, "total_assets")
		if err != nil {
			return nil, err
		}
		asset := config.AssetForDenom(denom)
		display, err := utils.SDKIntToFloat64(total, asset.Decimals)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s total to display units: %w", denom, err)
		}
		summary.AssetsUnderManagement = append(summary.AssetsUnderManagement, AssetTotal{
			Denom:  denom,
			Symbol: asset.Symbol,
			Amount: display,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during asset total iteration: %w", err)
	}

	var lastUpdated sql.NullString
	err = DB.QueryRow(`SELECT MAX(snapshot_timestamp)::text FROM cycle_snapshots`).Scan(&lastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get last cycle timestamp: %w", err)
	}
	if lastUpdated.Valid {
		summary.LastUpdated = lastUpdated.String
	}

	log.Info().
		Int("totalVaults", summary.TotalVaults).
		Int("openPositions", summary.OpenPositions).
		Int("totalCycles", summary.TotalCycles).
		Msg("Retrieved protocol summary")
	return summary, nil
}

// GetPerformanceMetrics retrieves aggregated harvest and liquidation metrics
func GetPerformanceMetrics() (*PerformanceMetrics, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	metrics := &PerformanceMetrics{}

	err := DB.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(apy_bps), 0)
		FROM harvest_receipts`).
		Scan(&metrics.HarvestCount, &metrics.AvgAPYBps)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate harvest receipts: %w", err)
	}

	err = DB.QueryRow(`
		SELECT COUNT(*), COUNT(CASE WHEN full_liquidation THEN 1 END)
		FROM liquidation_receipts`).
		Scan(&metrics.LiquidationCount, &metrics.FullLiquidationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate liquidation receipts: %w", err)
	}

	err = DB.QueryRow(`
		SELECT COUNT(*), COUNT(CASE WHEN error_message IS NOT NULL THEN 1 END)
		FROM cycle_snapshots`).
		Scan(&metrics.TotalCycles, &metrics.FailedCycles)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cycle outcomes: %w", err)
	}

	log.Info().
		Int("harvestCount", metrics.HarvestCount).
		Int("liquidationCount", metrics.LiquidationCount).
		Int("totalCycles", metrics.TotalCycles).
		Msg("Retrieved performance metrics")

	return metrics, nil
}
