// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	sdkmath "cosmossdk.io/math"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrNotFound marks lookups of records that do not exist. Callers that
// respond differently to an absent record match it with errors.Is.
var ErrNotFound = errors.New("record not found")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
//
// Exact base-unit amounts are stored as NUMERIC(78, 0): wide enough for any
// 256-bit integer, and never subject to binary float rounding.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS protocol_config (
			id INTEGER PRIMARY KEY DEFAULT 1,
			authority VARCHAR(255) NOT NULL,
			treasury VARCHAR(255) NOT NULL,
			default_management_fee_bps BIGINT NOT NULL,
			default_performance_fee_bps BIGINT NOT NULL,
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			vault_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT protocol_config_single_row CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS vaults (
			vault_id BIGINT PRIMARY KEY,
			strategy VARCHAR(50) NOT NULL,
			asset_denom VARCHAR(128) NOT NULL,
			share_denom VARCHAR(128) NOT NULL,
			total_assets NUMERIC(78, 0) NOT NULL,
			total_shares NUMERIC(78, 0) NOT NULL,
			management_fee_bps BIGINT NOT NULL,
			performance_fee_bps BIGINT NOT NULL,
			high_water_mark NUMERIC(78, 0) NOT NULL,
			accrued_management_fees NUMERIC(78, 0) NOT NULL,
			accrued_performance_fees NUMERIC(78, 0) NOT NULL,
			leverage_cap_bps BIGINT NOT NULL DEFAULT 10000,
			current_leverage_bps BIGINT NOT NULL DEFAULT 10000,
			collateral_factor_bps BIGINT NOT NULL,
			liquidation_threshold_bps BIGINT NOT NULL,
			target_allocations JSONB NOT NULL,
			rebalance_threshold_bps BIGINT NOT NULL,
			harvest_cooldown_seconds BIGINT NOT NULL,
			rebalance_cooldown_seconds BIGINT NOT NULL,
			last_harvest_time BIGINT NOT NULL,
			last_rebalance_time BIGINT NOT NULL,
			min_deposit NUMERIC(78, 0) NOT NULL,
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_vaults_strategy ON vaults(strategy);

		-- Migration: leverage columns were added after the initial schema shipped
		ALTER TABLE vaults ADD COLUMN IF NOT EXISTS leverage_cap_bps BIGINT NOT NULL DEFAULT 10000;
		ALTER TABLE vaults ADD COLUMN IF NOT EXISTS current_leverage_bps BIGINT NOT NULL DEFAULT 10000;

		CREATE TABLE IF NOT EXISTS share_balances (
			vault_id BIGINT NOT NULL REFERENCES vaults(vault_id),
			account VARCHAR(255) NOT NULL,
			shares NUMERIC(78, 0) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (vault_id, account)
		);

		CREATE TABLE IF NOT EXISTS positions (
			vault_id BIGINT NOT NULL REFERENCES vaults(vault_id),
			owner VARCHAR(255) NOT NULL,
			shares NUMERIC(78, 0) NOT NULL,
			collateral NUMERIC(78, 0) NOT NULL,
			debt NUMERIC(78, 0) NOT NULL,
			state VARCHAR(32) NOT NULL,
			last_update_time BIGINT NOT NULL,
			PRIMARY KEY (vault_id, owner)
		);
		CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state);

		CREATE TABLE IF NOT EXISTS risk_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			collateral_factor_bps BIGINT NOT NULL,
			liquidation_threshold_bps BIGINT NOT NULL,
			liquidation_bonus_bps BIGINT NOT NULL,
			close_factor_bps BIGINT NOT NULL,
			max_quote_age_seconds BIGINT NOT NULL,
			CONSTRAINT uq_risk_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_risk_parameters_config_active_timestamp ON risk_parameters(config_name, is_active, activated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_risk_parameters_config_timestamp ON risk_parameters(config_name, activated_at DESC);

		CREATE TABLE IF NOT EXISTS harvest_receipts (
			receipt_id SERIAL PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			harvest_time BIGINT NOT NULL,
			rewards NUMERIC(78, 0) NOT NULL,
			management_fee NUMERIC(78, 0) NOT NULL,
			performance_fee NUMERIC(78, 0) NOT NULL,
			apy_bps NUMERIC(78, 0) NOT NULL,
			nav_per_share NUMERIC(78, 0) NOT NULL,
			high_water_mark NUMERIC(78, 0) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_harvest_receipts_vault ON harvest_receipts(vault_id, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS liquidation_receipts (
			receipt_id SERIAL PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			owner VARCHAR(255) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			executed_at BIGINT NOT NULL,
			repaid NUMERIC(78, 0) NOT NULL,
			seized NUMERIC(78, 0) NOT NULL,
			shares_burned NUMERIC(78, 0) NOT NULL,
			full_liquidation BOOLEAN NOT NULL,
			health_after NUMERIC(78, 0) NOT NULL,
			state_after VARCHAR(32) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_liquidation_receipts_vault ON liquidation_receipts(vault_id, recorded_at DESC);
		CREATE INDEX IF NOT EXISTS idx_liquidation_receipts_owner ON liquidation_receipts(owner);

		-- Idempotency ledger for settled custody flows. A flow is applied to
		-- the vault ledger at most once even if acknowledgement fails and the
		-- custody service delivers it again.
		CREATE TABLE IF NOT EXISTS applied_flows (
			flow_id VARCHAR(128) PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			account VARCHAR(255) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			amount NUMERIC(78, 0) NOT NULL,
			denom VARCHAR(128) NOT NULL,
			settled_at BIGINT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_applied_flows_vault ON applied_flows(vault_id, applied_at DESC);

		CREATE TABLE IF NOT EXISTS events (
			event_id SERIAL PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			vault_id BIGINT,
			owner VARCHAR(255),
			attributes JSONB,
			event_timestamp BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
		CREATE INDEX IF NOT EXISTS idx_events_vault ON events(vault_id, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			cycle_id VARCHAR(64) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			risk_params_id INTEGER REFERENCES risk_parameters(params_id),

			-- Pre-Cycle State
			vaults_before JSONB,

			-- What the cycle did
			harvests JSONB,
			liquidations JSONB,
			rebalances JSONB,
			instruction_hashes TEXT[], -- PostgreSQL array of custody instruction hashes

			-- Post-Cycle State
			vaults_after JSONB,
			duration_ms BIGINT,
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// parseIntColumn converts a NUMERIC(78, 0) column value back into an exact
// integer. The driver hands NUMERIC back as its decimal string.
func parseIntColumn(raw string, column string) (sdkmath.Int, error) {
	value, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("column %s holds a non-integer value: %q", column, raw)
	}
	return value, nil
}
