package engine

import (
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/custody"
	"github.com/meridian-labs/vre/internal/oracle"
	"github.com/meridian-labs/vre/internal/types"
)

func validEngineConfig() Config {
	params := config.DefaultRiskParameters
	return Config{
		Custody:        custody.NewSimGateway(),
		PriceFeed:      oracle.NewManualFeed(),
		RiskParams:     &params,
		Operator:       "vre1operator",
		ConfigName:     DEFAULT_RISK_CONFIG_NAME,
		ConfigVersion:  DEFAULT_RISK_CONFIG_VERSION,
		MaxSlippageBps: 100,
	}
}

func TestValidateEngineConfig(t *testing.T) {
	require.NoError(t, validateEngineConfig(validEngineConfig()))

	t.Run("missing custody gateway", func(t *testing.T) {
		cfg := validEngineConfig()
		cfg.Custody = nil
		assert.Error(t, validateEngineConfig(cfg))
	})

	t.Run("missing price feed", func(t *testing.T) {
		cfg := validEngineConfig()
		cfg.PriceFeed = nil
		assert.Error(t, validateEngineConfig(cfg))
	})

	t.Run("missing risk parameters", func(t *testing.T) {
		cfg := validEngineConfig()
		cfg.RiskParams = nil
		assert.Error(t, validateEngineConfig(cfg))
	})

	t.Run("empty operator", func(t *testing.T) {
		cfg := validEngineConfig()
		cfg.Operator = ""
		assert.Error(t, validateEngineConfig(cfg))
	})

	t.Run("zero slippage tolerance", func(t *testing.T) {
		cfg := validEngineConfig()
		cfg.MaxSlippageBps = 0
		assert.Error(t, validateEngineConfig(cfg))
	})
}

func TestNew(t *testing.T) {
	engine, err := New(validEngineConfig())
	require.NoError(t, err)
	require.NotNil(t, engine)
	assert.Equal(t, DEFAULT_RISK_CONFIG_NAME, engine.configName)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestLockRegistry(t *testing.T) {
	registry := newLockRegistry()

	t.Run("same vault shares one lock", func(t *testing.T) {
		assert.Same(t, registry.forVault(1), registry.forVault(1))
	})

	t.Run("different vaults get different locks", func(t *testing.T) {
		assert.NotSame(t, registry.forVault(1), registry.forVault(2))
	})

	t.Run("serializes writers on one vault", func(t *testing.T) {
		var wg sync.WaitGroup
		counter := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lock := registry.forVault(3)
				lock.Lock()
				counter++
				lock.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, counter)
	})
}

func TestClassifyFlow(t *testing.T) {
	vault := types.VaultLedger{
		VaultID:    7,
		AssetDenom: "uusdc",
		ShareDenom: "vshare7",
	}

	t.Run("inbound asset flow is a deposit", func(t *testing.T) {
		kind, err := classifyFlow(&vault, custody.Flow{
			FlowID:    "flow-1",
			Direction: custody.FlowInbound,
			Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(500_000)),
		})
		require.NoError(t, err)
		assert.Equal(t, flowKindDeposit, kind)
	})

	t.Run("outbound share flow is a withdrawal", func(t *testing.T) {
		kind, err := classifyFlow(&vault, custody.Flow{
			FlowID:    "flow-2",
			Direction: custody.FlowOutbound,
			Amount:    sdk.NewCoin("vshare7", sdkmath.NewInt(250_000)),
		})
		require.NoError(t, err)
		assert.Equal(t, flowKindWithdrawal, kind)
	})

	t.Run("inbound flow in the wrong denom is refused", func(t *testing.T) {
		_, err := classifyFlow(&vault, custody.Flow{
			FlowID:    "flow-3",
			Direction: custody.FlowInbound,
			Amount:    sdk.NewCoin("uatom", sdkmath.NewInt(500_000)),
		})
		assert.Error(t, err)
	})

	t.Run("outbound flow in the asset denom is refused", func(t *testing.T) {
		_, err := classifyFlow(&vault, custody.Flow{
			FlowID:    "flow-4",
			Direction: custody.FlowOutbound,
			Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(500_000)),
		})
		assert.Error(t, err)
	})

	t.Run("unknown direction is refused", func(t *testing.T) {
		_, err := classifyFlow(&vault, custody.Flow{
			FlowID:    "flow-5",
			Direction: custody.FlowDirection("SIDEWAYS"),
			Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(500_000)),
		})
		assert.Error(t, err)
	})
}

func TestRewardsFromCustody(t *testing.T) {
	t.Run("custody gain over the books is the reward", func(t *testing.T) {
		rewards := rewardsFromCustody(sdkmath.NewInt(1_050_000), sdkmath.NewInt(1_000_000))
		assert.Equal(t, sdkmath.NewInt(50_000), rewards)
	})

	t.Run("custody matching the books yields nothing", func(t *testing.T) {
		rewards := rewardsFromCustody(sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
		assert.True(t, rewards.IsZero())
	})

	t.Run("custody below the books clamps to zero", func(t *testing.T) {
		rewards := rewardsFromCustody(sdkmath.NewInt(900_000), sdkmath.NewInt(1_000_000))
		assert.True(t, rewards.IsZero())
	})

	t.Run("nil values clamp to zero", func(t *testing.T) {
		rewards := rewardsFromCustody(sdkmath.Int{}, sdkmath.NewInt(1_000_000))
		assert.True(t, rewards.IsZero())
	})
}
