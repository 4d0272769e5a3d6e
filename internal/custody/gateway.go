package custody

import (
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/types"
)

// FlowDirection marks which way value crossed the custody boundary.
type FlowDirection string

const (
	// FlowInbound is a settled depositor payment into a vault.
	FlowInbound FlowDirection = "IN"
	// FlowOutbound is a settled redemption out of a vault.
	FlowOutbound FlowDirection = "OUT"
)

// Flow is one settled movement of assets reported by the custody service.
// Flows are applied to the ledger exactly once and then acknowledged by ID.
type Flow struct {
	FlowID    string        `json:"flow_id"`
	Account   string        `json:"account"`
	Direction FlowDirection `json:"direction"`
	Amount    sdk.Coin      `json:"amount"`
	SettledAt int64         `json:"settled_at"` // Unix seconds
}

// Gateway defines the interface for interacting with the custody service that
// actually holds vault assets. This interface abstracts away the specific
// implementation details of custody operations, allowing for different
// gateway implementations (live, simulation, etc.).
type Gateway interface {
	// SettledFlows returns deposits and withdrawals that settled since the
	// flows were last acknowledged.
	SettledFlows(vaultID types.VaultID) ([]Flow, error)

	// AcknowledgeFlows marks settled flows as applied so they are not
	// delivered again.
	AcknowledgeFlows(vaultID types.VaultID, flowIDs []string) error

	// LegValues returns the current value deployed in each strategy leg of a
	// vault, denominated in the vault's asset base units, ordered by leg.
	LegValues(vaultID types.VaultID) ([]sdkmath.Int, error)

	// ExecuteLegMoves submits a signed instruction carrying the planner's leg
	// moves and returns the accepted instruction hash.
	ExecuteLegMoves(vaultID types.VaultID, assetDenom string, moves []planner.LegMove) (string, error)

	// PayOutFees submits a signed instruction paying collected fees out of a
	// vault and returns the accepted instruction hash.
	PayOutFees(vaultID types.VaultID, recipient string, amount sdk.Coin) (string, error)

	// Healthy reports whether the custody service is reachable and serving.
	Healthy() error

	// Close cleans up any resources used by the gateway.
	Close() error

	// ensureConnection ensures we have a valid gRPC connection
	ensureConnection() error
}
