package wallet

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/config"
)

func TestComputeFeeRoundsUp(t *testing.T) {
	config.GasPriceAmount = "0.025"
	config.GasPriceDenom = "uusdc"

	fee, err := computeFee(300_000)
	require.NoError(t, err)
	require.Equal(t, "uusdc", fee.Denom)
	require.Equal(t, int64(7500), fee.Amount.Int64())

	// A fractional product rounds up, never down.
	config.GasPriceAmount = "0.000013"
	fee, err = computeFee(300_000)
	require.NoError(t, err)
	require.Equal(t, int64(4), fee.Amount.Int64())
}

func TestComputeFeeRejectsBadPrice(t *testing.T) {
	config.GasPriceAmount = "not-a-number"
	config.GasPriceDenom = "uusdc"

	_, err := computeFee(100_000)
	require.Error(t, err)
}

func TestValidateLegTransfer(t *testing.T) {
	valid := LegTransfer{
		Leg:       0,
		Direction: "REDUCE",
		Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(1000)),
	}
	require.NoError(t, validateLegTransfer(valid, 0))

	t.Run("negative leg", func(t *testing.T) {
		transfer := valid
		transfer.Leg = -1
		require.Error(t, validateLegTransfer(transfer, 0))
	})

	t.Run("unknown direction", func(t *testing.T) {
		transfer := valid
		transfer.Direction = "SIDEWAYS"
		require.Error(t, validateLegTransfer(transfer, 0))
	})

	t.Run("zero amount", func(t *testing.T) {
		transfer := valid
		transfer.Amount = sdk.NewCoin("uusdc", sdkmath.ZeroInt())
		require.Error(t, validateLegTransfer(transfer, 0))
	})

	t.Run("empty denom", func(t *testing.T) {
		transfer := valid
		transfer.Amount = sdk.Coin{Denom: "", Amount: sdkmath.NewInt(1000)}
		require.Error(t, validateLegTransfer(transfer, 0))
	})
}

func TestValidateInstructionKinds(t *testing.T) {
	fee := sdk.NewCoin("uusdc", sdkmath.NewInt(7500))
	base := Instruction{
		ChainID:  "vre-custody-1",
		Sender:   "vre1operator",
		Sequence: 7,
		VaultID:  1,
		GasLimit: 300_000,
		Fee:      fee,
		IssuedAt: 1_700_000_000,
	}

	t.Run("leg transfer requires transfers", func(t *testing.T) {
		instruction := base
		instruction.Kind = InstructionLegTransfer
		require.Error(t, validateInstruction(instruction))

		instruction.LegTransfers = []LegTransfer{{
			Leg:       1,
			Direction: "INCREASE",
			Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(500)),
		}}
		require.NoError(t, validateInstruction(instruction))
	})

	t.Run("treasury transfer requires recipient and amount", func(t *testing.T) {
		instruction := base
		instruction.Kind = InstructionTreasuryTransfer
		require.Error(t, validateInstruction(instruction))

		amount := sdk.NewCoin("uusdc", sdkmath.NewInt(25_000))
		instruction.Recipient = "vre1treasury"
		instruction.Amount = &amount
		require.NoError(t, validateInstruction(instruction))
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		instruction := base
		instruction.Kind = InstructionKind("TELEPORT")
		require.Error(t, validateInstruction(instruction))
	})

	t.Run("zero vault rejected", func(t *testing.T) {
		instruction := base
		instruction.Kind = InstructionTreasuryTransfer
		amount := sdk.NewCoin("uusdc", sdkmath.NewInt(1))
		instruction.Recipient = "vre1treasury"
		instruction.Amount = &amount
		instruction.VaultID = 0
		require.ErrorIs(t, validateInstruction(instruction), ErrInvalidVaultID)
	})
}
