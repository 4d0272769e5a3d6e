package planner

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/types"
)

func newTestVault() types.VaultLedger {
	return types.VaultLedger{
		VaultID:                  1,
		Strategy:                 types.StrategyLpFarming,
		TotalAssets:              sdkmath.NewInt(1_000_000),
		TotalShares:              sdkmath.NewInt(1_000_000),
		TargetAllocations:        []int64{6000, 4000},
		RebalanceThresholdBps:    500,
		RebalanceCooldownSeconds: 0,
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("due when drift exceeds the threshold", func(t *testing.T) {
		vault := newTestVault()

		evaluation, err := Evaluate(&vault, []int64{6600, 3400}, 1000)
		require.NoError(t, err)
		assert.True(t, evaluation.Due)
		assert.Equal(t, int64(600), evaluation.MaxDeviationBps)
		assert.Equal(t, []int64{-600, 600}, evaluation.Deltas)
	})

	t.Run("drift exactly at the threshold is not due", func(t *testing.T) {
		vault := newTestVault()

		evaluation, err := Evaluate(&vault, []int64{6500, 3500}, 1000)
		require.NoError(t, err)
		assert.False(t, evaluation.Due)
		assert.Equal(t, int64(500), evaluation.MaxDeviationBps)
		assert.Equal(t, []int64{-500, 500}, evaluation.Deltas, "deltas are reported even when not due")
	})

	t.Run("perfectly on target is not due", func(t *testing.T) {
		vault := newTestVault()

		evaluation, err := Evaluate(&vault, []int64{6000, 4000}, 1000)
		require.NoError(t, err)
		assert.False(t, evaluation.Due)
		assert.Equal(t, int64(0), evaluation.MaxDeviationBps)
	})

	t.Run("cooldown suppresses a due drift", func(t *testing.T) {
		vault := newTestVault()
		vault.RebalanceCooldownSeconds = 86400
		vault.LastRebalanceTime = 100_000

		evaluation, err := Evaluate(&vault, []int64{6600, 3400}, 100_000+43200)
		require.NoError(t, err)
		assert.False(t, evaluation.Due)
		assert.Equal(t, int64(43200), evaluation.CooldownRemaining)

		evaluation, err = Evaluate(&vault, []int64{6600, 3400}, 100_000+86400)
		require.NoError(t, err)
		assert.True(t, evaluation.Due, "cooldown fully elapsed")
	})

	t.Run("rejects length mismatches", func(t *testing.T) {
		vault := newTestVault()

		_, err := Evaluate(&vault, []int64{10000}, 1000)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects allocations that do not sum to 10000", func(t *testing.T) {
		vault := newTestVault()

		_, err := Evaluate(&vault, []int64{6000, 3999}, 1000)
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = Evaluate(&vault, []int64{11000, -1000}, 1000)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestRequireDue(t *testing.T) {
	vault := newTestVault()

	evaluation, err := Evaluate(&vault, []int64{6400, 3600}, 1000)
	require.NoError(t, err)
	err = RequireDue(evaluation)
	assert.ErrorIs(t, err, types.ErrAllocationWithinThreshold)

	evaluation, err = Evaluate(&vault, []int64{7000, 3000}, 1000)
	require.NoError(t, err)
	assert.NoError(t, RequireDue(evaluation))
}

func TestGenerateRebalancePlan(t *testing.T) {
	t.Run("reductions come before increases", func(t *testing.T) {
		vault := newTestVault()
		vault.TargetAllocations = []int64{5000, 3000, 2000}

		evaluation, err := Evaluate(&vault, []int64{3000, 3000, 4000}, 1000)
		require.NoError(t, err)
		require.True(t, evaluation.Due)

		moves, err := GenerateRebalancePlan(&vault, evaluation)
		require.NoError(t, err)
		require.Len(t, moves, 2)

		assert.Equal(t, MoveReduce, moves[0].Direction)
		assert.Equal(t, 2, moves[0].Leg)
		assert.Equal(t, sdkmath.NewInt(200_000), moves[0].Amount)

		assert.Equal(t, MoveIncrease, moves[1].Direction)
		assert.Equal(t, 0, moves[1].Leg)
		assert.Equal(t, sdkmath.NewInt(200_000), moves[1].Amount)
	})

	t.Run("refuses plans that are not due", func(t *testing.T) {
		vault := newTestVault()

		evaluation, err := Evaluate(&vault, []int64{6100, 3900}, 1000)
		require.NoError(t, err)

		_, err = GenerateRebalancePlan(&vault, evaluation)
		assert.ErrorIs(t, err, types.ErrAllocationWithinThreshold)
	})

	t.Run("refuses empty vaults", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.ZeroInt()

		evaluation, err := Evaluate(&vault, []int64{7000, 3000}, 1000)
		require.NoError(t, err)

		_, err = GenerateRebalancePlan(&vault, evaluation)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestConfirmExecuted(t *testing.T) {
	vault := newTestVault()
	vault.RebalanceCooldownSeconds = 86400

	evaluation, err := Evaluate(&vault, []int64{6600, 3400}, 500_000)
	require.NoError(t, err)
	require.True(t, evaluation.Due)

	require.NoError(t, ConfirmExecuted(&vault, 500_000))
	assert.Equal(t, int64(500_000), vault.LastRebalanceTime)

	// the same drift is now inside the cooldown window
	evaluation, err = Evaluate(&vault, []int64{6600, 3400}, 500_100)
	require.NoError(t, err)
	assert.False(t, evaluation.Due)

	err = ConfirmExecuted(&vault, 400_000)
	assert.ErrorIs(t, err, types.ErrValidation, "execution cannot predate the last rebalance")
}
