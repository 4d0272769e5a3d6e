package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSDKIntToFloat64(t *testing.T) {
	t.Run("six decimal denom converts to display units", func(t *testing.T) {
		value, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, value, 1e-9)
	})

	t.Run("zero precision is identity", func(t *testing.T) {
		value, err := SDKIntToFloat64(sdkmath.NewInt(42), 0)
		require.NoError(t, err)
		assert.InDelta(t, 42.0, value, 1e-9)
	})

	t.Run("zero amount converts to zero", func(t *testing.T) {
		value, err := SDKIntToFloat64(sdkmath.ZeroInt(), 18)
		require.NoError(t, err)
		assert.Zero(t, value)
	})

	t.Run("nil amount is rejected", func(t *testing.T) {
		_, err := SDKIntToFloat64(sdkmath.Int{}, 6)
		assert.ErrorIs(t, err, ErrAmountNil)
	})

	t.Run("negative amount is rejected", func(t *testing.T) {
		_, err := SDKIntToFloat64(sdkmath.NewInt(-1), 6)
		assert.ErrorIs(t, err, ErrAmountNegative)
	})

	t.Run("precision outside 0..18 is rejected", func(t *testing.T) {
		_, err := SDKIntToFloat64(sdkmath.NewInt(1), -1)
		assert.ErrorIs(t, err, ErrInvalidPrecision)

		_, err = SDKIntToFloat64(sdkmath.NewInt(1), 19)
		assert.ErrorIs(t, err, ErrInvalidPrecision)
	})
}
