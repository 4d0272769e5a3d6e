/*

This file contains the leveraged position ledger and its lifecycle states.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// PositionState is the lifecycle state of a leveraged position.
// Transitions are Healthy -> Liquidatable -> (Liquidated | Healthy).
// Liquidated is terminal.
type PositionState string

const (
	PositionHealthy      PositionState = "HEALTHY"
	PositionLiquidatable PositionState = "LIQUIDATABLE"
	PositionLiquidated   PositionState = "LIQUIDATED"
)

// PositionLedger is the per-(owner, vault) leveraged position record.
// Debt is always strictly less than position size; a position with zero
// debt has unbounded health and can never be liquidated.
type PositionLedger struct {
	Owner   string  `json:"owner"`
	VaultID VaultID `json:"vault_id"`

	Shares     sdkmath.Int `json:"shares"`     // Vault shares backing the position
	Collateral sdkmath.Int `json:"collateral"` // Underlying units posted
	Debt       sdkmath.Int `json:"debt"`       // Underlying units borrowed

	State          PositionState `json:"state"`
	LastUpdateTime int64         `json:"last_update_time"` // Unix seconds
}

// PositionSize is the gross exposure: collateral plus borrowed funds.
func (p *PositionLedger) PositionSize() sdkmath.Int {
	return p.Collateral.Add(p.Debt)
}

// Open reports whether the position can still be operated on.
func (p *PositionLedger) Open() bool {
	return p.State != PositionLiquidated
}
