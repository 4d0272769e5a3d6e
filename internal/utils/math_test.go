package utils

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/types"
)

func TestCheckedAdd(t *testing.T) {
	t.Run("adds non-negative operands", func(t *testing.T) {
		sum, err := CheckedAdd(sdkmath.NewInt(1_000_000), sdkmath.NewInt(500_000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1_500_000), sum)
	})

	t.Run("nil operand is a validation error", func(t *testing.T) {
		_, err := CheckedAdd(sdkmath.Int{}, sdkmath.NewInt(1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("negative operand is a validation error", func(t *testing.T) {
		_, err := CheckedAdd(sdkmath.NewInt(-1), sdkmath.NewInt(1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("overflow past the 256-bit cap is caught", func(t *testing.T) {
		huge := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 255))
		_, err := CheckedAdd(huge, huge)
		assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
	})
}

func TestCheckedSub(t *testing.T) {
	t.Run("subtracts within range", func(t *testing.T) {
		diff, err := CheckedSub(sdkmath.NewInt(1_000_000), sdkmath.NewInt(400_000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(600_000), diff)
	})

	t.Run("underflow below zero is rejected", func(t *testing.T) {
		_, err := CheckedSub(sdkmath.NewInt(1), sdkmath.NewInt(2))
		assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
	})

	t.Run("equal operands yield zero", func(t *testing.T) {
		diff, err := CheckedSub(sdkmath.NewInt(7), sdkmath.NewInt(7))
		require.NoError(t, err)
		assert.True(t, diff.IsZero())
	})
}

func TestCheckedMul(t *testing.T) {
	t.Run("multiplies within range", func(t *testing.T) {
		product, err := CheckedMul(sdkmath.NewInt(1_000), sdkmath.NewInt(1_000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1_000_000), product)
	})

	t.Run("overflow past the 256-bit cap is caught", func(t *testing.T) {
		huge := sdkmath.NewIntWithDecimal(1, 70)
		_, err := CheckedMul(huge, huge)
		assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
	})
}

func TestMulDivFloor(t *testing.T) {
	t.Run("floors the quotient", func(t *testing.T) {
		// 7 * 3 / 2 = 10.5, floored to 10
		result, err := MulDivFloor(sdkmath.NewInt(7), sdkmath.NewInt(3), sdkmath.NewInt(2))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(10), result)
	})

	t.Run("zero denominator is rejected", func(t *testing.T) {
		_, err := MulDivFloor(sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
	})

	t.Run("negative denominator is rejected", func(t *testing.T) {
		_, err := MulDivFloor(sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.NewInt(-2))
		assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
	})
}

func TestBpsShare(t *testing.T) {
	t.Run("200 bps of one million", func(t *testing.T) {
		share, err := BpsShare(sdkmath.NewInt(1_000_000), 200)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(20_000), share)
	})

	t.Run("full 10000 bps is identity", func(t *testing.T) {
		share, err := BpsShare(sdkmath.NewInt(123_456), 10_000)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(123_456), share)
	})

	t.Run("zero bps is zero", func(t *testing.T) {
		share, err := BpsShare(sdkmath.NewInt(123_456), 0)
		require.NoError(t, err)
		assert.True(t, share.IsZero())
	})

	t.Run("sub-unit share floors to zero", func(t *testing.T) {
		share, err := BpsShare(sdkmath.NewInt(49), 1)
		require.NoError(t, err)
		assert.True(t, share.IsZero())
	})
}
