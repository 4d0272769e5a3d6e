package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/types"
)

func newTestConfig() types.ProtocolConfig {
	return types.ProtocolConfig{
		Authority:                "authority-1",
		Treasury:                 "treasury-1",
		DefaultManagementFeeBps:  200,
		DefaultPerformanceFeeBps: 2000,
	}
}

func TestAccrueManagementFee(t *testing.T) {
	t.Run("accrues pro rata over elapsed time", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.LastHarvestTime = 0

		// 200 bps over exactly one year on 1_000_000
		fee, err := AccrueManagementFee(&vault, types.SecondsPerYear)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(20_000), fee)
		assert.Equal(t, sdkmath.NewInt(980_000), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(20_000), vault.AccruedManagementFees)
		assert.Equal(t, sdkmath.NewInt(1_000_000), vault.TotalShares, "accrual must not touch share supply")
	})

	t.Run("half a year accrues half the fee", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.LastHarvestTime = 0

		fee, err := AccrueManagementFee(&vault, types.SecondsPerYear/2)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(10_000), fee)
	})

	t.Run("clock behind the last harvest accrues nothing", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.LastHarvestTime = 5000

		fee, err := AccrueManagementFee(&vault, 4000)
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
		assert.Equal(t, sdkmath.NewInt(1_000_000), vault.TotalAssets)
	})

	t.Run("zero fee rate accrues nothing", func(t *testing.T) {
		vault := newTestVault()
		vault.ManagementFeeBps = 0
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)

		fee, err := AccrueManagementFee(&vault, types.SecondsPerYear)
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
	})
}

func TestAccruePerformanceFee(t *testing.T) {
	t.Run("charges on NAV gains above the mark", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(3_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.HighWaterMark = sdkmath.NewInt(2)

		// nav 3, gain 1 per share, 2000 bps on 1_000_000 shares
		fee, err := AccruePerformanceFee(&vault)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(200_000), fee)
		assert.Equal(t, sdkmath.NewInt(2_800_000), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(200_000), vault.AccruedPerformanceFees)
		assert.Equal(t, sdkmath.NewInt(2), vault.HighWaterMark, "mark follows post-fee NAV")
	})

	t.Run("no fee at or below the mark", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(2_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.HighWaterMark = sdkmath.NewInt(2)

		fee, err := AccruePerformanceFee(&vault)
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
		assert.Equal(t, sdkmath.NewInt(2), vault.HighWaterMark)
	})

	t.Run("no fee on an empty vault", func(t *testing.T) {
		vault := newTestVault()

		fee, err := AccruePerformanceFee(&vault)
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
	})

	t.Run("mark never decreases", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.HighWaterMark = sdkmath.NewInt(5)

		fee, err := AccruePerformanceFee(&vault)
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
		assert.Equal(t, sdkmath.NewInt(5), vault.HighWaterMark)
	})
}

func TestHarvest(t *testing.T) {
	t.Run("settles rewards then both fees in order", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.HighWaterMark = sdkmath.NewInt(1)
		vault.LastHarvestTime = 0
		vault.HarvestCooldownSeconds = 3600

		result, err := Harvest(&vault, sdkmath.NewInt(1_500_000), types.SecondsPerYear)
		require.NoError(t, err)

		// rewards first: 2_500_000 under management for the full year
		assert.Equal(t, sdkmath.NewInt(50_000), result.ManagementFee)
		// nav then 2 against mark 1: 2000 bps on 1_000_000 shares of gain 1
		assert.Equal(t, sdkmath.NewInt(200_000), result.PerformanceFee)
		assert.Equal(t, sdkmath.NewInt(2_250_000), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(2), vault.HighWaterMark)
		assert.Equal(t, int64(types.SecondsPerYear), vault.LastHarvestTime)
		// 1_500_000 earned on 1_000_000 over one year
		assert.Equal(t, sdkmath.NewInt(15_000), result.APYBps)
	})

	t.Run("zero rewards still accrue the management fee", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1_000_000)
		vault.TotalShares = sdkmath.NewInt(1_000_000)
		vault.HighWaterMark = sdkmath.NewInt(1)
		vault.LastHarvestTime = 0

		result, err := Harvest(&vault, sdkmath.ZeroInt(), types.SecondsPerYear)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(20_000), result.ManagementFee)
		assert.True(t, result.APYBps.IsZero())
	})

	t.Run("rejects harvests on an empty vault", func(t *testing.T) {
		vault := newTestVault()

		_, err := Harvest(&vault, sdkmath.NewInt(100), 1000)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects harvests while paused", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)
		vault.Paused = true

		_, err := Harvest(&vault, sdkmath.NewInt(100), 1000)
		assert.ErrorIs(t, err, types.ErrVaultPaused)
	})

	t.Run("rejects harvests inside the cooldown", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)
		vault.LastHarvestTime = 10_000
		vault.HarvestCooldownSeconds = 3600

		_, err := Harvest(&vault, sdkmath.NewInt(100), 10_300)
		assert.ErrorIs(t, err, types.ErrValidation)

		// cooldown zero disables the rate limit
		vault.HarvestCooldownSeconds = 0
		_, err = Harvest(&vault, sdkmath.NewInt(100), 10_300)
		require.NoError(t, err)
	})

	t.Run("rejects negative rewards", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)

		_, err := Harvest(&vault, sdkmath.NewInt(-1), 1000)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestCollectFees(t *testing.T) {
	t.Run("authority drains both buckets", func(t *testing.T) {
		cfg := newTestConfig()
		vault := newTestVault()
		vault.AccruedManagementFees = sdkmath.NewInt(1234)
		vault.AccruedPerformanceFees = sdkmath.NewInt(5678)

		mgmt, perf, err := CollectFees(&vault, &cfg, "authority-1")
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1234), mgmt)
		assert.Equal(t, sdkmath.NewInt(5678), perf)
		assert.True(t, vault.AccruedManagementFees.IsZero())
		assert.True(t, vault.AccruedPerformanceFees.IsZero())
	})

	t.Run("rejects non-authority callers", func(t *testing.T) {
		cfg := newTestConfig()
		vault := newTestVault()
		vault.AccruedManagementFees = sdkmath.NewInt(1234)

		_, _, err := CollectFees(&vault, &cfg, "someone-else")
		assert.ErrorIs(t, err, types.ErrUnauthorized)
		assert.Equal(t, sdkmath.NewInt(1234), vault.AccruedManagementFees)
	})
}

func TestEstimateAPY(t *testing.T) {
	t.Run("annualizes the reward period", func(t *testing.T) {
		apy, err := EstimateAPY(sdkmath.NewInt(10_000), sdkmath.NewInt(1_000_000), types.SecondsPerYear)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(100), apy)
	})

	t.Run("shorter periods scale up", func(t *testing.T) {
		apy, err := EstimateAPY(sdkmath.NewInt(10_000), sdkmath.NewInt(1_000_000), types.SecondsPerYear/12)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1200), apy)
	})

	t.Run("rejects degenerate inputs", func(t *testing.T) {
		_, err := EstimateAPY(sdkmath.NewInt(10), sdkmath.ZeroInt(), 100)
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = EstimateAPY(sdkmath.NewInt(10), sdkmath.NewInt(100), 0)
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = EstimateAPY(sdkmath.NewInt(-10), sdkmath.NewInt(100), 100)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}
