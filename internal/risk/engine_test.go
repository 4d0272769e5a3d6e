package risk

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/oracle"
	"github.com/meridian-labs/vre/internal/types"
)

const testNow = int64(1_700_000_000)

func newTestRiskParams() types.RiskParameters {
	return types.RiskParameters{
		CollateralFactorBps:     8000,
		LiquidationThresholdBps: 11000,
		LiquidationBonusBps:     10500,
		CloseFactorBps:          5000,
		MaxQuoteAgeSeconds:      300,
	}
}

func newTestPosition(collateral, debt int64) types.PositionLedger {
	return types.PositionLedger{
		Owner:      "owner-1",
		VaultID:    1,
		Shares:     sdkmath.NewInt(1000),
		Collateral: sdkmath.NewInt(collateral),
		Debt:       sdkmath.NewInt(debt),
		State:      types.PositionHealthy,
	}
}

func newTestLeverageVault() types.VaultLedger {
	return types.VaultLedger{
		VaultID:                 1,
		Strategy:                types.StrategyLeveragedYield,
		AssetDenom:              "uusdc",
		TotalAssets:             sdkmath.NewInt(100_000),
		TotalShares:             sdkmath.NewInt(100_000),
		HighWaterMark:           sdkmath.NewInt(1),
		AccruedManagementFees:   sdkmath.ZeroInt(),
		AccruedPerformanceFees:  sdkmath.ZeroInt(),
		LeverageCapBps:          30000,
		CurrentLeverageBps:      10000,
		CollateralFactorBps:     8000,
		LiquidationThresholdBps: 11000,
		MinDeposit:              sdkmath.ZeroInt(),
	}
}

func freshQuote() oracle.Quote {
	return oracle.Quote{Denom: "uusdc", Price: sdkmath.LegacyOneDec(), AsOf: testNow - 10}
}

func TestHealthFactor(t *testing.T) {
	t.Run("floors collateral-weighted coverage", func(t *testing.T) {
		hf, err := HealthFactor(sdkmath.NewInt(100), sdkmath.NewInt(100), 8000)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(8000), hf)

		hf, err = HealthFactor(sdkmath.NewInt(1000), sdkmath.NewInt(800), 8000)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(10000), hf)

		hf, err = HealthFactor(sdkmath.NewInt(1000), sdkmath.NewInt(999), 8000)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(8008), hf)
	})

	t.Run("zero debt is unbounded", func(t *testing.T) {
		hf, err := HealthFactor(sdkmath.NewInt(100), sdkmath.ZeroInt(), 8000)
		require.NoError(t, err)
		assert.Equal(t, UnboundedHealthFactor, hf)
	})

	t.Run("rejects negative inputs", func(t *testing.T) {
		_, err := HealthFactor(sdkmath.NewInt(-1), sdkmath.NewInt(100), 8000)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestLiquidatable(t *testing.T) {
	params := newTestRiskParams()

	t.Run("strictly below threshold only", func(t *testing.T) {
		// hf 8000 against threshold 11000
		position := newTestPosition(100, 100)
		eligible, err := Liquidatable(&position, params)
		require.NoError(t, err)
		assert.True(t, eligible)

		// hf exactly at the threshold stays safe
		position = newTestPosition(1100, 800)
		hf, err := HealthFactor(position.Collateral, position.Debt, params.CollateralFactorBps)
		require.NoError(t, err)
		require.Equal(t, sdkmath.NewInt(11000), hf)

		eligible, err = Liquidatable(&position, params)
		require.NoError(t, err)
		assert.False(t, eligible)
	})

	t.Run("debt-free positions are never liquidatable", func(t *testing.T) {
		position := newTestPosition(100, 0)
		eligible, err := Liquidatable(&position, params)
		require.NoError(t, err)
		assert.False(t, eligible)
	})
}

func TestOpenOrAdjust(t *testing.T) {
	params := newTestRiskParams()

	t.Run("doubles exposure at 2x", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(0, 0)

		hf, err := OpenOrAdjust(&position, &vault, 20000, sdkmath.NewInt(100), freshQuote(), params, testNow)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(100), position.Collateral)
		assert.Equal(t, sdkmath.NewInt(100), position.Debt)
		assert.Equal(t, sdkmath.NewInt(200), position.PositionSize())
		assert.Equal(t, sdkmath.NewInt(8000), hf)
		assert.Equal(t, uint64(20000), vault.CurrentLeverageBps)
		assert.Equal(t, testNow, position.LastUpdateTime)
	})

	t.Run("1x carries no debt", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(0, 0)

		hf, err := OpenOrAdjust(&position, &vault, 10000, sdkmath.NewInt(500), freshQuote(), params, testNow)
		require.NoError(t, err)
		assert.True(t, position.Debt.IsZero())
		assert.Equal(t, UnboundedHealthFactor, hf)
		assert.Equal(t, types.PositionHealthy, position.State)
	})

	t.Run("rejects targets above the vault cap", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(100, 0)

		_, err := OpenOrAdjust(&position, &vault, 30001, sdkmath.ZeroInt(), freshQuote(), params, testNow)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects targets below 1x", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(100, 0)

		_, err := OpenOrAdjust(&position, &vault, 9999, sdkmath.ZeroInt(), freshQuote(), params, testNow)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("rejects stale quotes", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(100, 0)
		stale := freshQuote()
		stale.AsOf = testNow - 301

		_, err := OpenOrAdjust(&position, &vault, 15000, sdkmath.ZeroInt(), stale, params, testNow)
		assert.ErrorIs(t, err, types.ErrStalePriceFeed)
		assert.Equal(t, sdkmath.ZeroInt(), position.Debt, "failed adjust must not mutate the position")
	})

	t.Run("rejects withdrawing more collateral than posted", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(100, 0)

		_, err := OpenOrAdjust(&position, &vault, 15000, sdkmath.NewInt(-101), freshQuote(), params, testNow)
		assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	})

	t.Run("rejects paused vaults", func(t *testing.T) {
		vault := newTestLeverageVault()
		vault.Paused = true
		position := newTestPosition(100, 0)

		_, err := OpenOrAdjust(&position, &vault, 15000, sdkmath.ZeroInt(), freshQuote(), params, testNow)
		assert.ErrorIs(t, err, types.ErrVaultPaused)
	})

	t.Run("rejects liquidated positions", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(0, 0)
		position.State = types.PositionLiquidated

		_, err := OpenOrAdjust(&position, &vault, 15000, sdkmath.NewInt(100), freshQuote(), params, testNow)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("marks undercollateralized targets liquidatable", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(0, 0)

		hf, err := OpenOrAdjust(&position, &vault, 20000, sdkmath.NewInt(100), freshQuote(), params, testNow)
		require.NoError(t, err)
		require.True(t, hf.LT(sdkmath.NewInt(11000)))
		assert.Equal(t, types.PositionLiquidatable, position.State)
	})
}

func TestLiquidate(t *testing.T) {
	params := newTestRiskParams()

	t.Run("partial restores health", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1000, 800) // hf 10000, below 11000

		result, err := Liquidate(&position, &vault, params, freshQuote(), testNow)
		require.NoError(t, err)
		assert.False(t, result.Full)
		assert.Equal(t, sdkmath.NewInt(400), result.Repaid, "close factor takes half the debt")
		assert.Equal(t, sdkmath.NewInt(420), result.Seized, "5% bonus on the repayment")
		assert.Equal(t, sdkmath.NewInt(420), result.SharesBurned)
		assert.Equal(t, sdkmath.NewInt(11600), result.HealthAfter)
		assert.Equal(t, types.PositionHealthy, position.State)
		assert.Equal(t, sdkmath.NewInt(580), position.Collateral)
		assert.Equal(t, sdkmath.NewInt(400), position.Debt)
		assert.Equal(t, sdkmath.NewInt(580), position.Shares)
		assert.Equal(t, sdkmath.NewInt(99_580), vault.TotalAssets)
		assert.Equal(t, sdkmath.NewInt(99_580), vault.TotalShares)
	})

	t.Run("falls back to full when partial cannot restore health", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1000, 950) // partial leaves hf 8454

		result, err := Liquidate(&position, &vault, params, freshQuote(), testNow)
		require.NoError(t, err)
		assert.True(t, result.Full)
		assert.Equal(t, sdkmath.NewInt(950), result.Repaid, "full path clears all debt")
		assert.Equal(t, sdkmath.NewInt(997), result.Seized)
		assert.True(t, position.Debt.IsZero())
		assert.Equal(t, sdkmath.NewInt(3), position.Collateral)
		assert.Equal(t, types.PositionHealthy, position.State, "debt-free remainder keeps running")
	})

	t.Run("seizing all collateral retires the position", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1000, 2000)

		result, err := Liquidate(&position, &vault, params, freshQuote(), testNow)
		require.NoError(t, err)
		assert.True(t, result.Full)
		assert.Equal(t, sdkmath.NewInt(1000), result.Seized, "seizure clamps at posted collateral")
		assert.Equal(t, sdkmath.NewInt(1000), result.SharesBurned, "terminal liquidation burns every share")
		assert.Equal(t, types.PositionLiquidated, position.State)
		assert.True(t, position.Collateral.IsZero())
		assert.True(t, position.Debt.IsZero())
		assert.True(t, position.Shares.IsZero())
		assert.False(t, position.Open())
	})

	t.Run("rejects healthy positions", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1100, 800) // hf exactly 11000

		_, err := Liquidate(&position, &vault, params, freshQuote(), testNow)
		assert.ErrorIs(t, err, types.ErrNotLiquidatable)
	})

	t.Run("rejects stale quotes before touching state", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1000, 800)
		stale := freshQuote()
		stale.AsOf = testNow - 301

		_, err := Liquidate(&position, &vault, params, stale, testNow)
		assert.ErrorIs(t, err, types.ErrStalePriceFeed)
		assert.Equal(t, sdkmath.NewInt(800), position.Debt)
		assert.Equal(t, sdkmath.NewInt(100_000), vault.TotalAssets)
	})

	t.Run("rejects already liquidated positions", func(t *testing.T) {
		vault := newTestLeverageVault()
		position := newTestPosition(1000, 800)
		position.State = types.PositionLiquidated

		_, err := Liquidate(&position, &vault, params, freshQuote(), testNow)
		assert.ErrorIs(t, err, types.ErrNotLiquidatable)
	})
}

func TestRefreshState(t *testing.T) {
	params := newTestRiskParams()

	t.Run("healthy to liquidatable and back", func(t *testing.T) {
		position := newTestPosition(1000, 800)

		state, err := RefreshState(&position, params)
		require.NoError(t, err)
		assert.Equal(t, types.PositionLiquidatable, state)

		position.Debt = sdkmath.NewInt(700) // hf 11428
		state, err = RefreshState(&position, params)
		require.NoError(t, err)
		assert.Equal(t, types.PositionHealthy, state)
	})

	t.Run("liquidated is terminal", func(t *testing.T) {
		position := newTestPosition(0, 0)
		position.State = types.PositionLiquidated

		state, err := RefreshState(&position, params)
		require.NoError(t, err)
		assert.Equal(t, types.PositionLiquidated, state)
	})
}
