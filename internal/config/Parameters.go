/*

This file contains the default risk parameters for the vault risk engine.

These parameters are designed for managing significant capital (millions of dollars) in a production environment.
Each value has been carefully chosen to balance depositor protection with capital efficiency.

*/

package config

import (
	"github.com/meridian-labs/vre/internal/types"
)

// DefaultRiskParameters provides a baseline parameter set for leverage and liquidation logic.
// These values are used if no active parameters are found in the database during initialization.
//
// IMPORTANT: These defaults are calibrated for managing large amounts of capital (>$1M).
// They prioritize solvency of the vault over capital efficiency for individual positions.
var DefaultRiskParameters = types.RiskParameters{
	CollateralFactorBps: 8000, // Count 80% of posted collateral toward borrowing power.
	// Rationale: The 20% haircut absorbs oracle lag and intra-cycle price moves
	// before a position's debt is ever undercollateralized in real terms.
	// A higher factor would let positions borrow against value that can evaporate
	// between two engine cycles.

	LiquidationThresholdBps: 11000, // Liquidate when health factor falls below 1.10x.
	// Rationale: The 10% margin above break-even gives liquidations room to
	// complete while the position still covers its debt plus the bonus.
	// Waiting until 1.00x would routinely leave the vault absorbing shortfalls.

	LiquidationBonusBps: 10500, // Liquidators seize 105% of the repaid value.
	// Rationale: A 5% bonus is enough to make liquidation profitable after
	// execution costs without gouging the position owner. Larger bonuses
	// accelerate the collateral drain on positions that might otherwise recover.

	CloseFactorBps: 5000, // Repay at most 50% of outstanding debt per liquidation.
	// Rationale: Partial liquidation gives positions a chance to return to health
	// after a single intervention instead of being wiped out by one price spike.
	// The engine falls back to full liquidation only when the partial pass
	// provably cannot restore the position.

	MaxQuoteAgeSeconds: 300, // Reject oracle quotes older than 5 minutes.
	// Rationale: Liquidations and leverage changes move real collateral, so they
	// must never price against a feed that has stopped updating. Five minutes
	// tolerates ordinary feed jitter while bounding how stale a decision can be.
}

// Default fee schedule seeded into the protocol configuration on first start.
// Individual vaults inherit these at creation and can be re-parameterized by
// the authority afterwards.
const (
	// DefaultManagementFeeBps is 2% per year, accrued pro rata per harvest.
	DefaultManagementFeeBps uint64 = 200

	// DefaultPerformanceFeeBps is 20% of gains above the high-water mark.
	DefaultPerformanceFeeBps uint64 = 2000
)
