package analyzer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/types"
)

func ints(values ...int64) []sdkmath.Int {
	out := make([]sdkmath.Int, len(values))
	for i, v := range values {
		out[i] = sdkmath.NewInt(v)
	}
	return out
}

func TestAllocationsFromValues(t *testing.T) {
	t.Run("clean splits map directly", func(t *testing.T) {
		allocations, err := AllocationsFromValues(ints(600_000, 400_000))
		require.NoError(t, err)
		assert.Equal(t, []int64{6000, 4000}, allocations)
	})

	t.Run("always sums to exactly 10000", func(t *testing.T) {
		cases := [][]sdkmath.Int{
			ints(2, 1),
			ints(1, 1, 1),
			ints(333, 333, 334),
			ints(1, 2, 4, 8, 16, 32),
			ints(999_983, 31_337, 271_828),
		}
		for _, values := range cases {
			allocations, err := AllocationsFromValues(values)
			require.NoError(t, err)
			var sum int64
			for _, a := range allocations {
				sum += a
			}
			assert.Equal(t, int64(types.BpsDenominator), sum, "values %v", values)
		}
	})

	t.Run("largest remainder takes the leftover bp", func(t *testing.T) {
		// 2/3 floors to 6666 with remainder 2/3, 1/3 floors to 3333 with 1/3
		allocations, err := AllocationsFromValues(ints(2, 1))
		require.NoError(t, err)
		assert.Equal(t, []int64{6667, 3333}, allocations)
	})

	t.Run("idle legs read as zero", func(t *testing.T) {
		allocations, err := AllocationsFromValues(ints(0, 500, 500))
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 5000, 5000}, allocations)
	})

	t.Run("rejects empty and undeployed vaults", func(t *testing.T) {
		_, err := AllocationsFromValues(nil)
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = AllocationsFromValues(ints(0, 0))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects negative values", func(t *testing.T) {
		_, err := AllocationsFromValues(ints(100, -1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestTotalDeployedValue(t *testing.T) {
	total, err := TotalDeployedValue(ints(100, 200, 300))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(600), total)

	_, err = TotalDeployedValue(ints(100, -200))
	assert.ErrorIs(t, err, types.ErrValidation)
}
