/*

Package planner implements the rebalance decision: measuring allocation
drift against a vault's targets, deciding whether a rebalance is due, and
turning the decision into an ordered plan of leg moves. The planner never
executes anything; the execution timestamp is only advanced through
ConfirmExecuted once the host has actually moved funds.

*/

package planner

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"
)

var plannerLogger = logger.GetForComponent("planner")

// MoveDirection tells the executor which way a leg move flows.
type MoveDirection string

const (
	MoveReduce   MoveDirection = "REDUCE"
	MoveIncrease MoveDirection = "INCREASE"
)

// LegMove is one executable step of a rebalance plan: shift Amount of the
// underlying into or out of strategy leg Leg.
type LegMove struct {
	Leg       int           `json:"leg"`
	Direction MoveDirection `json:"direction"`
	DeltaBps  int64         `json:"delta_bps"` // Signed target minus current
	Amount    sdkmath.Int   `json:"amount"`    // Underlying units to move
}

// Evaluation is the outcome of measuring a vault's allocation drift.
type Evaluation struct {
	VaultID           types.VaultID `json:"vault_id"`
	Due               bool          `json:"due"`
	MaxDeviationBps   int64         `json:"max_deviation_bps"`
	Deltas            []int64       `json:"deltas"` // Signed, target minus current, per leg
	CooldownRemaining int64         `json:"cooldown_remaining"`
	EvaluatedAt       int64         `json:"evaluated_at"`
}

// Evaluate measures drift between current and target allocations. A
// rebalance is due only when the largest absolute deviation strictly
// exceeds the vault's threshold and the rebalance cooldown has elapsed;
// drift exactly at the threshold is tolerated. Deltas are reported either
// way so callers can observe drift without acting on it.
func Evaluate(vault *types.VaultLedger, currentAllocations []int64, now int64) (Evaluation, error) {
	// ===== INPUT VALIDATION =====
	if vault == nil {
		return Evaluation{}, errors.Join(types.ErrValidation, errors.New("vault ledger is nil"))
	}
	if len(currentAllocations) != len(vault.TargetAllocations) {
		return Evaluation{}, errors.Join(types.ErrValidation, fmt.Errorf("vault %d has %d target legs, got %d current", vault.VaultID, len(vault.TargetAllocations), len(currentAllocations)))
	}
	if err := validateAllocationVector(currentAllocations, "current"); err != nil {
		return Evaluation{}, err
	}
	if err := validateAllocationVector(vault.TargetAllocations, "target"); err != nil {
		return Evaluation{}, err
	}

	// ===== DRIFT MEASUREMENT =====
	deltas := make([]int64, len(currentAllocations))
	var maxDeviation int64
	for i, current := range currentAllocations {
		delta := vault.TargetAllocations[i] - current
		deltas[i] = delta
		deviation := delta
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > maxDeviation {
			maxDeviation = deviation
		}
	}

	// ===== DUE DECISION =====
	var cooldownRemaining int64
	if vault.RebalanceCooldownSeconds > 0 {
		if elapsed := now - vault.LastRebalanceTime; elapsed < vault.RebalanceCooldownSeconds {
			cooldownRemaining = vault.RebalanceCooldownSeconds - elapsed
		}
	}
	due := maxDeviation > int64(vault.RebalanceThresholdBps) && cooldownRemaining == 0

	evaluation := Evaluation{
		VaultID:           vault.VaultID,
		Due:               due,
		MaxDeviationBps:   maxDeviation,
		Deltas:            deltas,
		CooldownRemaining: cooldownRemaining,
		EvaluatedAt:       now,
	}
	plannerLogger.Debug().
		Uint64("vault_id", uint64(vault.VaultID)).
		Bool("due", due).
		Int64("max_deviation_bps", maxDeviation).
		Int64("cooldown_remaining", cooldownRemaining).
		Msg("Rebalance evaluated")
	return evaluation, nil
}

// RequireDue converts a not-due evaluation into the typed refusal an
// explicit rebalance request receives.
func RequireDue(evaluation Evaluation) error {
	if evaluation.Due {
		return nil
	}
	if evaluation.CooldownRemaining > 0 {
		return errors.Join(types.ErrAllocationWithinThreshold, fmt.Errorf("vault %d rebalance cooldown has %ds remaining", evaluation.VaultID, evaluation.CooldownRemaining))
	}
	return errors.Join(types.ErrAllocationWithinThreshold, fmt.Errorf("vault %d max deviation %d bps does not exceed threshold", evaluation.VaultID, evaluation.MaxDeviationBps))
}

// GenerateRebalancePlan turns a due evaluation into concrete leg moves in
// underlying units, reductions before increases so the freed funds cover
// the added legs.
func GenerateRebalancePlan(vault *types.VaultLedger, evaluation Evaluation) ([]LegMove, error) {
	if vault == nil {
		return nil, errors.Join(types.ErrValidation, errors.New("vault ledger is nil"))
	}
	if err := RequireDue(evaluation); err != nil {
		return nil, err
	}
	if vault.TotalAssets.IsNil() || !vault.TotalAssets.IsPositive() {
		return nil, errors.Join(types.ErrValidation, fmt.Errorf("vault %d holds no assets to rebalance", vault.VaultID))
	}

	moves := make([]LegMove, 0, len(evaluation.Deltas))
	for leg, delta := range evaluation.Deltas {
		if delta == 0 {
			continue
		}
		deviation := delta
		direction := MoveIncrease
		if deviation < 0 {
			deviation = -deviation
			direction = MoveReduce
		}
		amount, err := utils.BpsShare(vault.TotalAssets, uint64(deviation))
		if err != nil {
			return nil, err
		}
		if amount.IsZero() {
			continue
		}
		moves = append(moves, LegMove{
			Leg:       leg,
			Direction: direction,
			DeltaBps:  delta,
			Amount:    amount,
		})
	}

	// Reductions first; ties keep leg order for deterministic plans
	sort.SliceStable(moves, func(i, j int) bool {
		return moves[i].Direction == MoveReduce && moves[j].Direction == MoveIncrease
	})

	plannerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Int("moves", len(moves)).
		Int64("max_deviation_bps", evaluation.MaxDeviationBps).
		Msg("Rebalance plan generated")
	return moves, nil
}

// ConfirmExecuted stamps the rebalance time. Call it only after the plan
// has actually been executed; evaluation alone never advances the clock.
func ConfirmExecuted(vault *types.VaultLedger, now int64) error {
	if vault == nil {
		return errors.Join(types.ErrValidation, errors.New("vault ledger is nil"))
	}
	if now < vault.LastRebalanceTime {
		return errors.Join(types.ErrValidation, fmt.Errorf("execution time %d precedes last rebalance %d", now, vault.LastRebalanceTime))
	}
	vault.LastRebalanceTime = now
	plannerLogger.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Int64("executed_at", now).
		Msg("Rebalance execution confirmed")
	return nil
}

func validateAllocationVector(allocations []int64, label string) error {
	var sum int64
	for i, a := range allocations {
		if a < 0 {
			return errors.Join(types.ErrValidation, fmt.Errorf("%s allocation %d is negative", label, i))
		}
		sum += a
	}
	if sum != types.BpsDenominator {
		return errors.Join(types.ErrValidation, fmt.Errorf("%s allocations sum to %d bps, want %d", label, sum, types.BpsDenominator))
	}
	return nil
}
