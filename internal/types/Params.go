package types

import (
	"errors"
	"fmt"
)

const (
	// BpsDenominator is the fixed-point denominator for all basis-point math.
	BpsDenominator = 10000

	// SecondsPerYear is the annualization constant for fee and APY math (365 days).
	SecondsPerYear = 31_536_000

	// LeverageFloorBps is 1.0x, the minimum expressible leverage.
	LeverageFloorBps = 10000

	// LeverageCeilingBps is 5.0x, the maximum any vault may configure as its cap.
	LeverageCeilingBps = 50000

	// MaxManagementFeeBps caps management fees at 10% per year.
	MaxManagementFeeBps = 1000

	// MaxPerformanceFeeBps caps performance fees at 50% of gains.
	MaxPerformanceFeeBps = 5000
)

// RiskParameters is the liquidation configuration consumed by the risk
// engine. Values are passed in explicitly on every call, never read from
// globals, so replaying a decision with the same inputs gives the same
// outcome.
type RiskParameters struct {
	CollateralFactorBps     uint64 `json:"collateral_factor_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `json:"liquidation_bonus_bps"` // Gross multiplier, 10500 = 5% bonus
	CloseFactorBps          uint64 `json:"close_factor_bps"`      // Share of debt cleared by a partial liquidation
	MaxQuoteAgeSeconds      int64  `json:"max_quote_age_seconds"`
}

// Validate rejects parameter sets that could never produce a sound
// liquidation decision.
func (r RiskParameters) Validate() error {
	if r.CollateralFactorBps == 0 || r.CollateralFactorBps > BpsDenominator {
		return errors.Join(ErrValidation, fmt.Errorf("collateral factor %d bps outside (0, %d]", r.CollateralFactorBps, BpsDenominator))
	}
	if r.LiquidationThresholdBps == 0 {
		return errors.Join(ErrValidation, errors.New("liquidation threshold must be positive"))
	}
	if r.LiquidationBonusBps < BpsDenominator {
		return errors.Join(ErrValidation, fmt.Errorf("liquidation bonus %d bps below gross floor %d", r.LiquidationBonusBps, BpsDenominator))
	}
	if r.CloseFactorBps == 0 || r.CloseFactorBps > BpsDenominator {
		return errors.Join(ErrValidation, fmt.Errorf("close factor %d bps outside (0, %d]", r.CloseFactorBps, BpsDenominator))
	}
	if r.MaxQuoteAgeSeconds <= 0 {
		return errors.Join(ErrValidation, errors.New("max quote age must be positive"))
	}
	return nil
}
