// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridian-labs/vre/internal/types"
)

// SaveRiskParameters saves a new version of risk parameters.
func SaveRiskParameters(params types.RiskParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid risk parameters: %w", err)
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

	if makeActive {
		stmtDeactivate := `UPDATE risk_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO risk_parameters (
            version, config_name, is_active, activated_at, created_at,
            collateral_factor_bps, liquidation_threshold_bps, liquidation_bonus_bps,
            close_factor_bps, max_quote_age_seconds
        ) VALUES (
            $1, $2, $3, $4, $5, -- version, config_name, is_active, activated_at, created_at
            $6, $7, $8,         -- collateral_factor_bps, liquidation_threshold_bps, liquidation_bonus_bps
            $9, $10             -- close_factor_bps, max_quote_age_seconds
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.CollateralFactorBps, params.LiquidationThresholdBps, params.LiquidationBonusBps,
		params.CloseFactorBps, params.MaxQuoteAgeSeconds,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert risk parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved risk parameters")
	return paramsID, nil
}

// LoadActiveRiskParameters loads the currently active risk parameters.
func LoadActiveRiskParameters(configName string) (*types.RiskParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            collateral_factor_bps, liquidation_threshold_bps, liquidation_bonus_bps,
            close_factor_bps, max_quote_age_seconds
        FROM risk_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	p := &types.RiskParameters{}
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&p.CollateralFactorBps, &p.LiquidationThresholdBps, &p.LiquidationBonusBps,
		&p.CloseFactorBps, &p.MaxQuoteAgeSeconds,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("no active risk parameters for config '%s'", configName))
		}
		return nil, fmt.Errorf("failed to scan active risk parameters for config '%s': %w", configName, err)
	}
	log.Info().Str("config", configName).Msg("Loaded active risk parameters")
	return p, nil
}

// LoadLatestRiskParameters loads the most recently activated risk parameters for a given config name.
func LoadLatestRiskParameters(configName string) (*types.RiskParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            collateral_factor_bps, liquidation_threshold_bps, liquidation_bonus_bps,
            close_factor_bps, max_quote_age_seconds
        FROM risk_parameters
        WHERE config_name = $1
        ORDER BY activated_at DESC, created_at DESC
        LIMIT 1;`

	p := &types.RiskParameters{}
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&p.CollateralFactorBps, &p.LiquidationThresholdBps, &p.LiquidationBonusBps,
		&p.CloseFactorBps, &p.MaxQuoteAgeSeconds,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Join(ErrNotFound, fmt.Errorf("no risk parameters for config '%s'", configName))
		}
		return nil, fmt.Errorf("failed to scan latest risk parameters for config '%s': %w", configName, err)
	}
	log.Info().Str("config", configName).Msg("Loaded latest risk parameters (by activation/creation time)")
	return p, nil
}

// GetActiveRiskParametersID returns the params_id of the currently active risk parameters
func GetActiveRiskParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM risk_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active parameters found - this is valid, return nil
			log.Debug().Str("config", configName).Msg("No active risk parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active risk parameters ID for config '%s': %w", configName, err)
	}

	log.Debug().
		Str("config", configName).
		Int64("params_id", paramsID).
		Msg("Retrieved active risk parameters ID")

	return &paramsID, nil
}
