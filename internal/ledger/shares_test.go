package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/types"
)

func newTestVault() types.VaultLedger {
	return types.VaultLedger{
		VaultID:                 1,
		Strategy:                types.StrategyLpFarming,
		AssetDenom:              "uusdc",
		ShareDenom:              "vreshare1",
		TotalAssets:             sdkmath.ZeroInt(),
		TotalShares:             sdkmath.ZeroInt(),
		ManagementFeeBps:        200,
		PerformanceFeeBps:       2000,
		HighWaterMark:           sdkmath.ZeroInt(),
		AccruedManagementFees:   sdkmath.ZeroInt(),
		AccruedPerformanceFees:  sdkmath.ZeroInt(),
		LeverageCapBps:          20000,
		CurrentLeverageBps:      10000,
		CollateralFactorBps:     8000,
		LiquidationThresholdBps: 11000,
		TargetAllocations:       []int64{6000, 4000},
		RebalanceThresholdBps:   500,
		MinDeposit:              sdkmath.NewInt(10),
	}
}

func TestDeposit(t *testing.T) {
	t.Run("first deposit mints one share per asset unit", func(t *testing.T) {
		vault := newTestVault()

		minted, err := Deposit(&vault, sdkmath.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1000), minted)
		assert.Equal(t, sdkmath.NewInt(1000), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(1000), vault.TotalShares)
	})

	t.Run("subsequent deposits mint pro rata", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)

		minted, err := Deposit(&vault, sdkmath.NewInt(500))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(500), minted)
		assert.Equal(t, sdkmath.NewInt(1500), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(1500), vault.TotalShares)
	})

	t.Run("pro rata floors in the vault's favor", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(300)

		// 700 * 300 / 1000 = 210 exactly; 701 would floor from 210.3
		minted, err := Deposit(&vault, sdkmath.NewInt(701))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(210), minted)
	})

	t.Run("first deposit sets the high-water mark", func(t *testing.T) {
		vault := newTestVault()

		_, err := Deposit(&vault, sdkmath.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1), vault.HighWaterMark)
	})

	t.Run("rejects zero and negative amounts", func(t *testing.T) {
		vault := newTestVault()

		_, err := Deposit(&vault, sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = Deposit(&vault, sdkmath.NewInt(-5))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects amounts below the vault minimum", func(t *testing.T) {
		vault := newTestVault()

		_, err := Deposit(&vault, sdkmath.NewInt(9))
		assert.ErrorIs(t, err, types.ErrBelowMinimumDeposit)
	})

	t.Run("rejects deposits while paused", func(t *testing.T) {
		vault := newTestVault()
		vault.Paused = true

		_, err := Deposit(&vault, sdkmath.NewInt(100))
		assert.ErrorIs(t, err, types.ErrVaultPaused)
	})

	t.Run("rejects deposits that mint zero shares", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(100000)
		vault.TotalShares = sdkmath.NewInt(10)

		before := vault.Clone()
		_, err := Deposit(&vault, sdkmath.NewInt(500))
		assert.ErrorIs(t, err, types.ErrDustResult)
		assert.Equal(t, before.TotalAssets, vault.TotalAssets, "failed deposit must not mutate the ledger")
		assert.Equal(t, before.TotalShares, vault.TotalShares)
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("redeems assets pro rata", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)

		assets, err := Withdraw(&vault, sdkmath.NewInt(300), sdkmath.NewInt(600))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(300), assets)
		assert.Equal(t, sdkmath.NewInt(700), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(700), vault.TotalShares)
	})

	t.Run("redeeming the full supply drains the vault", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1777)
		vault.TotalShares = sdkmath.NewInt(900)

		assets, err := Withdraw(&vault, sdkmath.NewInt(900), sdkmath.NewInt(900))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1777), assets)
		assert.True(t, vault.TotalAssets.IsZero())
		assert.True(t, vault.TotalShares.IsZero())
	})

	t.Run("rejects redemptions above the caller balance", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)

		_, err := Withdraw(&vault, sdkmath.NewInt(500), sdkmath.NewInt(499))
		assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	})

	t.Run("rejects zero share redemptions", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)

		_, err := Withdraw(&vault, sdkmath.ZeroInt(), sdkmath.NewInt(100))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects redemptions that pay zero assets", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(10)
		vault.TotalShares = sdkmath.NewInt(100000)

		before := vault.Clone()
		_, err := Withdraw(&vault, sdkmath.NewInt(50), sdkmath.NewInt(1000))
		assert.ErrorIs(t, err, types.ErrDustResult)
		assert.Equal(t, before.TotalAssets, vault.TotalAssets, "failed withdrawal must not mutate the ledger")
	})

	t.Run("withdrawals stay open while paused", func(t *testing.T) {
		vault := newTestVault()
		vault.TotalAssets = sdkmath.NewInt(1000)
		vault.TotalShares = sdkmath.NewInt(1000)
		vault.Paused = true

		assets, err := Withdraw(&vault, sdkmath.NewInt(100), sdkmath.NewInt(100))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(100), assets)
	})
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	vault := newTestVault()
	vault.TotalAssets = sdkmath.NewInt(999983)
	vault.TotalShares = sdkmath.NewInt(31337)

	deposit := sdkmath.NewInt(12345)
	minted, err := Deposit(&vault, deposit)
	require.NoError(t, err)

	assets, err := Withdraw(&vault, minted, minted)
	require.NoError(t, err)
	assert.True(t, assets.LTE(deposit), "round trip paid out %s for %s in", assets, deposit)
}

func TestNavPerShare(t *testing.T) {
	assert.Equal(t, sdkmath.ZeroInt(), NavPerShare(sdkmath.NewInt(100), sdkmath.ZeroInt()))
	assert.Equal(t, sdkmath.NewInt(2), NavPerShare(sdkmath.NewInt(2500), sdkmath.NewInt(1000)))
	assert.Equal(t, sdkmath.NewInt(1), NavPerShare(sdkmath.NewInt(1999), sdkmath.NewInt(1000)))
}
