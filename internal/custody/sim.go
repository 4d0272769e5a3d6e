package custody

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/types"
)

// SimGateway is an in-memory Gateway for dry runs and tests. It keeps its own
// leg book and applies submitted moves to it, so a full engine cycle can run
// without a custody service behind it.
type SimGateway struct {
	mu sync.Mutex

	pendingFlows map[types.VaultID][]Flow
	acknowledged map[string]bool
	legBook      map[types.VaultID][]sdkmath.Int

	submissions []SimSubmission
	payouts     []SimPayout

	sequence   uint64
	healthyErr error
}

// SimSubmission records one ExecuteLegMoves call.
type SimSubmission struct {
	VaultID types.VaultID
	Denom   string
	Moves   []planner.LegMove
	Hash    string
}

// SimPayout records one PayOutFees call.
type SimPayout struct {
	VaultID   types.VaultID
	Recipient string
	Amount    sdk.Coin
	Hash      string
}

// NewSimGateway returns an empty, healthy simulated gateway.
func NewSimGateway() *SimGateway {
	return &SimGateway{
		pendingFlows: make(map[types.VaultID][]Flow),
		acknowledged: make(map[string]bool),
		legBook:      make(map[types.VaultID][]sdkmath.Int),
	}
}

// QueueFlow stages a settled flow for delivery by SettledFlows.
func (s *SimGateway) QueueFlow(vaultID types.VaultID, flow Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingFlows[vaultID] = append(s.pendingFlows[vaultID], flow)
}

// SetLegBook seeds the per-leg values for a vault.
func (s *SimGateway) SetLegBook(vaultID types.VaultID, values []sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := make([]sdkmath.Int, len(values))
	copy(book, values)
	s.legBook[vaultID] = book
}

// SetHealthyErr makes Healthy return err until cleared with nil.
func (s *SimGateway) SetHealthyErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthyErr = err
}

// Submissions returns every leg move submission in order.
func (s *SimGateway) Submissions() []SimSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimSubmission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// Payouts returns every fee payout in order.
func (s *SimGateway) Payouts() []SimPayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimPayout, len(s.payouts))
	copy(out, s.payouts)
	return out
}

// SettledFlows returns the staged flows that have not been acknowledged.
func (s *SimGateway) SettledFlows(vaultID types.VaultID) ([]Flow, error) {
	if vaultID == 0 {
		return nil, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pendingFlows[vaultID]
	flows := make([]Flow, 0, len(pending))
	for _, flow := range pending {
		if !s.acknowledged[flow.FlowID] {
			flows = append(flows, flow)
		}
	}
	return flows, nil
}

// AcknowledgeFlows marks staged flows as applied. Unknown IDs fail the call,
// matching the live gateway's behavior.
func (s *SimGateway) AcknowledgeFlows(vaultID types.VaultID, flowIDs []string) error {
	if vaultID == 0 {
		return errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if len(flowIDs) == 0 {
		return errors.Join(ErrInvalidFlowData, errors.New("flow ID list cannot be empty"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]bool, len(s.pendingFlows[vaultID]))
	for _, flow := range s.pendingFlows[vaultID] {
		staged[flow.FlowID] = true
	}
	for _, flowID := range flowIDs {
		if !staged[flowID] {
			return errors.Join(ErrInvalidFlowData, fmt.Errorf("flow %s is not staged for vault %d", flowID, vaultID))
		}
		s.acknowledged[flowID] = true
	}
	return nil
}

// LegValues returns a copy of the vault's leg book.
func (s *SimGateway) LegValues(vaultID types.VaultID) ([]sdkmath.Int, error) {
	if vaultID == 0 {
		return nil, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.legBook[vaultID]
	values := make([]sdkmath.Int, len(book))
	copy(values, book)
	return values, nil
}

// ExecuteLegMoves validates the moves like the live gateway does, applies them
// to the leg book, and returns a synthetic instruction hash.
func (s *SimGateway) ExecuteLegMoves(vaultID types.VaultID, assetDenom string, moves []planner.LegMove) (string, error) {
	if err := validateLegMoves(vaultID, assetDenom, moves); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.legBook[vaultID]
	for _, move := range moves {
		if move.Leg >= len(book) {
			return "", errors.Join(ErrInvalidMoveData, fmt.Errorf("leg %d is out of range for vault %d", move.Leg, vaultID))
		}
		switch move.Direction {
		case planner.MoveReduce:
			if book[move.Leg].LT(move.Amount) {
				return "", errors.Join(ErrInvalidMoveData, fmt.Errorf("leg %d holds %s, cannot reduce by %s", move.Leg, book[move.Leg].String(), move.Amount.String()))
			}
			book[move.Leg] = book[move.Leg].Sub(move.Amount)
		case planner.MoveIncrease:
			book[move.Leg] = book[move.Leg].Add(move.Amount)
		}
	}

	s.sequence++
	hash := fmt.Sprintf("SIM%08d", s.sequence)
	recorded := make([]planner.LegMove, len(moves))
	copy(recorded, moves)
	s.submissions = append(s.submissions, SimSubmission{
		VaultID: vaultID,
		Denom:   assetDenom,
		Moves:   recorded,
		Hash:    hash,
	})
	return hash, nil
}

// PayOutFees records the payout and returns a synthetic instruction hash.
func (s *SimGateway) PayOutFees(vaultID types.VaultID, recipient string, amount sdk.Coin) (string, error) {
	if vaultID == 0 {
		return "", errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if recipient == "" {
		return "", errors.Join(types.ErrValidation, errors.New("recipient cannot be empty"))
	}
	if err := amount.Validate(); err != nil {
		return "", errors.Join(types.ErrValidation, err)
	}
	if amount.IsZero() {
		return "", errors.Join(types.ErrValidation, errors.New("payout amount cannot be zero"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	hash := fmt.Sprintf("SIM%08d", s.sequence)
	s.payouts = append(s.payouts, SimPayout{
		VaultID:   vaultID,
		Recipient: recipient,
		Amount:    amount,
		Hash:      hash,
	})
	return hash, nil
}

// Healthy reports the configured health state.
func (s *SimGateway) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthyErr
}

// Close is a no-op for the simulated gateway.
func (s *SimGateway) Close() error {
	return nil
}

func (s *SimGateway) ensureConnection() error {
	return nil
}
