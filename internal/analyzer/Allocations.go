/*

This file turns raw per-leg holdings into the allocation vector the planner
consumes. Plain flooring of each leg's share can lose basis points to
rounding and make a perfectly balanced vault look drifted, so the leftover
basis points are handed to the legs with the largest remainders.

*/

package analyzer

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"
)

var analyzerLogger = logger.GetForComponent("analyzer")

// AllocationsFromValues converts per-leg deployed values into basis-point
// allocations that sum to exactly 10000. Rounding is deterministic:
// largest remainder wins, ties go to the lower leg index.
func AllocationsFromValues(values []sdkmath.Int) ([]int64, error) {
	if len(values) == 0 {
		return nil, errors.Join(types.ErrValidation, errors.New("no leg values supplied"))
	}

	total := sdkmath.ZeroInt()
	for i, v := range values {
		if v.IsNil() {
			return nil, errors.Join(types.ErrValidation, fmt.Errorf("leg %d value is nil", i))
		}
		if v.IsNegative() {
			return nil, errors.Join(types.ErrValidation, fmt.Errorf("leg %d value is negative", i))
		}
		var err error
		if total, err = utils.CheckedAdd(total, v); err != nil {
			return nil, err
		}
	}
	if total.IsZero() {
		return nil, errors.Join(types.ErrValidation, errors.New("total deployed value is zero"))
	}

	bpsInt := sdkmath.NewInt(types.BpsDenominator)
	allocations := make([]int64, len(values))
	remainders := make([]sdkmath.Int, len(values))
	var assigned int64
	for i, v := range values {
		scaled, err := utils.CheckedMul(v, bpsInt)
		if err != nil {
			return nil, err
		}
		base := scaled.Quo(total)
		allocations[i] = base.Int64()
		remainders[i] = scaled.Sub(base.Mul(total))
		assigned += allocations[i]
	}

	// Floors drop at most one bp per leg
	leftover := int64(types.BpsDenominator) - assigned
	if leftover < 0 || leftover >= int64(len(values)) {
		return nil, errors.Join(types.ErrArithmeticOverflow, fmt.Errorf("allocation rounding left %d bps unassigned", leftover))
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GT(remainders[order[b]])
	})
	for i := int64(0); i < leftover; i++ {
		allocations[order[i]]++
	}

	analyzerLogger.Debug().
		Int("legs", len(values)).
		Str("total_value", total.String()).
		Msg("Current allocations computed")
	return allocations, nil
}

// TotalDeployedValue sums leg values with overflow checking.
func TotalDeployedValue(values []sdkmath.Int) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for i, v := range values {
		if v.IsNil() || v.IsNegative() {
			return sdkmath.ZeroInt(), errors.Join(types.ErrValidation, fmt.Errorf("leg %d value is invalid", i))
		}
		var err error
		if total, err = utils.CheckedAdd(total, v); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	return total, nil
}
