package wallet

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidTransfer    = errors.New("transfer contains invalid data")
	ErrInvalidAmount      = errors.New("amount is invalid")
	ErrInvalidDenom       = errors.New("denomination is invalid")
	ErrInvalidVaultID     = errors.New("vault ID is invalid")
	ErrInvalidRecipient   = errors.New("recipient is invalid")
	ErrFeeComputation     = errors.New("fee computation failed")
	ErrInstructionInvalid = errors.New("instruction is invalid")
)

var instructionLogger = logger.GetForComponent("instruction_builder")

// InstructionKind enumerates the custody operations the gateway accepts.
type InstructionKind string

const (
	// InstructionLegTransfer moves value between strategy legs of a vault.
	InstructionLegTransfer InstructionKind = "LEG_TRANSFER"
	// InstructionTreasuryTransfer pays collected fees out to an address.
	InstructionTreasuryTransfer InstructionKind = "TREASURY_TRANSFER"
)

// LegTransfer is one directed movement of vault assets for a strategy leg.
type LegTransfer struct {
	Leg       int      `json:"leg"`
	Direction string   `json:"direction"` // "REDUCE" or "INCREASE"
	Amount    sdk.Coin `json:"amount"`
}

// Instruction is the unsigned envelope submitted to the custody gateway.
// Field order is fixed; the signature covers the canonical JSON encoding.
type Instruction struct {
	ChainID      string          `json:"chain_id"`
	Sender       string          `json:"sender"`
	Sequence     uint64          `json:"sequence"`
	Kind         InstructionKind `json:"kind"`
	VaultID      uint64          `json:"vault_id"`
	LegTransfers []LegTransfer   `json:"leg_transfers,omitempty"`
	Recipient    string          `json:"recipient,omitempty"`
	Amount       *sdk.Coin       `json:"amount,omitempty"`
	GasLimit     uint64          `json:"gas_limit"`
	Fee          sdk.Coin        `json:"fee"`
	Memo         string          `json:"memo,omitempty"`
	IssuedAt     int64           `json:"issued_at"` // Unix seconds
}

// SignedInstruction carries an instruction plus the operator's signature over
// the sha256 digest of its canonical JSON encoding.
type SignedInstruction struct {
	Instruction Instruction `json:"instruction"`
	Signature   string      `json:"signature"` // base64
	PubKey      string      `json:"pub_key"`   // base64 compressed key bytes
	Hash        string      `json:"hash"`      // hex digest, doubles as the submission ID
}

// InstructionBuilder builds and signs custody instructions.
type InstructionBuilder struct {
	signingClient *SigningClient
}

// NewInstructionBuilder creates a new instruction builder
func NewInstructionBuilder(signingClient *SigningClient) (*InstructionBuilder, error) {
	if signingClient == nil {
		return nil, errors.New("signing client cannot be nil")
	}
	return &InstructionBuilder{signingClient: signingClient}, nil
}

// BuildLegTransferInstruction assembles a leg-transfer instruction with
// comprehensive validation of every transfer in it.
func (b *InstructionBuilder) BuildLegTransferInstruction(
	vaultID types.VaultID,
	transfers []LegTransfer,
	sequence uint64,
	now int64,
) (Instruction, error) {
	instructionLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Int("transferCount", len(transfers)).
		Msg("BuildLegTransferInstruction: Starting assembly")

	if vaultID == 0 {
		return Instruction{}, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if len(transfers) == 0 {
		return Instruction{}, errors.Join(ErrInvalidTransfer, errors.New("no transfers provided"))
	}

	for i, transfer := range transfers {
		if err := validateLegTransfer(transfer, i); err != nil {
			instructionLogger.Error().Err(err).Int("transferIndex", i).Msg("BuildLegTransferInstruction: Transfer validation failed")
			return Instruction{}, errors.Join(ErrInvalidTransfer, err)
		}
	}

	fee, err := computeFee(config.DefaultGasLimit)
	if err != nil {
		return Instruction{}, errors.Join(ErrFeeComputation, err)
	}

	instruction := Instruction{
		ChainID:      b.signingClient.ChainID(),
		Sender:       b.signingClient.Address(),
		Sequence:     sequence,
		Kind:         InstructionLegTransfer,
		VaultID:      uint64(vaultID),
		LegTransfers: transfers,
		GasLimit:     config.DefaultGasLimit,
		Fee:          fee,
		IssuedAt:     now,
	}

	instructionLogger.Debug().
		Uint64("sequence", sequence).
		Str("fee", fee.String()).
		Msg("BuildLegTransferInstruction: Instruction assembled")

	return instruction, nil
}

// BuildTreasuryTransferInstruction assembles a fee payout instruction.
func (b *InstructionBuilder) BuildTreasuryTransferInstruction(
	vaultID types.VaultID,
	recipient string,
	amount sdk.Coin,
	sequence uint64,
	now int64,
) (Instruction, error) {
	if vaultID == 0 {
		return Instruction{}, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if recipient == "" {
		return Instruction{}, errors.Join(ErrInvalidRecipient, errors.New("recipient cannot be empty"))
	}
	if err := validateCoin(amount, "transfer amount"); err != nil {
		return Instruction{}, errors.Join(ErrInvalidAmount, err)
	}
	if amount.Amount.IsZero() {
		return Instruction{}, errors.Join(ErrInvalidAmount, errors.New("transfer amount cannot be zero"))
	}

	fee, err := computeFee(config.DefaultGasLimit)
	if err != nil {
		return Instruction{}, errors.Join(ErrFeeComputation, err)
	}

	return Instruction{
		ChainID:   b.signingClient.ChainID(),
		Sender:    b.signingClient.Address(),
		Sequence:  sequence,
		Kind:      InstructionTreasuryTransfer,
		VaultID:   uint64(vaultID),
		Recipient: recipient,
		Amount:    &amount,
		GasLimit:  config.DefaultGasLimit,
		Fee:       fee,
		IssuedAt:  now,
	}, nil
}

// SignInstruction signs the canonical JSON encoding of an instruction.
func (b *InstructionBuilder) SignInstruction(instruction Instruction) (SignedInstruction, error) {
	if err := validateInstruction(instruction); err != nil {
		return SignedInstruction{}, errors.Join(ErrInstructionInvalid, err)
	}

	payload, err := json.Marshal(instruction)
	if err != nil {
		return SignedInstruction{}, fmt.Errorf("failed to marshal instruction: %w", err)
	}

	digest := sha256.Sum256(payload)

	signature, pubKey, err := b.signingClient.Sign(digest[:])
	if err != nil {
		return SignedInstruction{}, err
	}

	signed := SignedInstruction{
		Instruction: instruction,
		Signature:   base64.StdEncoding.EncodeToString(signature),
		PubKey:      base64.StdEncoding.EncodeToString(pubKey.Bytes()),
		Hash:        hex.EncodeToString(digest[:]),
	}

	instructionLogger.Info().
		Str("kind", string(instruction.Kind)).
		Uint64("vaultId", instruction.VaultID).
		Uint64("sequence", instruction.Sequence).
		Str("hash", signed.Hash).
		Msg("Instruction signed")

	return signed, nil
}

// validateLegTransfer performs comprehensive validation of a single transfer
func validateLegTransfer(transfer LegTransfer, index int) error {
	if transfer.Leg < 0 {
		return fmt.Errorf("transfer %d has negative leg index: %d", index, transfer.Leg)
	}
	if transfer.Direction != "REDUCE" && transfer.Direction != "INCREASE" {
		return fmt.Errorf("transfer %d has unknown direction: %s", index, transfer.Direction)
	}
	if err := validateCoin(transfer.Amount, fmt.Sprintf("transfer %d amount", index)); err != nil {
		return err
	}
	if transfer.Amount.Amount.IsZero() {
		return fmt.Errorf("transfer %d amount cannot be zero", index)
	}
	return nil
}

// validateCoin checks a coin for the failure modes that slip past sdk.Coin's
// own constructor when structs are built literally.
func validateCoin(coin sdk.Coin, what string) error {
	if coin.Denom == "" {
		return errors.Join(ErrInvalidDenom, fmt.Errorf("%s has empty denom", what))
	}
	if coin.Amount.IsNil() {
		return fmt.Errorf("%s is nil", what)
	}
	if coin.Amount.IsNegative() {
		return fmt.Errorf("%s is negative: %s", what, coin.Amount.String())
	}
	return nil
}

// validateInstruction checks the assembled envelope before signing
func validateInstruction(instruction Instruction) error {
	if instruction.ChainID == "" {
		return errors.New("chain ID cannot be empty")
	}
	if instruction.Sender == "" {
		return errors.New("sender cannot be empty")
	}
	if instruction.VaultID == 0 {
		return errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if instruction.GasLimit == 0 {
		return errors.New("gas limit cannot be zero")
	}
	if err := validateCoin(instruction.Fee, "fee"); err != nil {
		return err
	}
	if instruction.IssuedAt <= 0 {
		return errors.New("issued-at timestamp must be positive")
	}

	switch instruction.Kind {
	case InstructionLegTransfer:
		if len(instruction.LegTransfers) == 0 {
			return errors.New("leg transfer instruction has no transfers")
		}
	case InstructionTreasuryTransfer:
		if instruction.Recipient == "" {
			return errors.Join(ErrInvalidRecipient, errors.New("treasury transfer has no recipient"))
		}
		if instruction.Amount == nil {
			return errors.Join(ErrInvalidAmount, errors.New("treasury transfer has no amount"))
		}
	case "":
		return errors.New("instruction kind cannot be empty")
	default:
		return fmt.Errorf("unknown instruction kind: %s", instruction.Kind)
	}

	return nil
}

// computeFee derives the flat instruction fee from the configured gas price.
// The price is a decimal string; the fee rounds up so submissions are never
// underpaid.
func computeFee(gasLimit uint64) (sdk.Coin, error) {
	price, err := sdkmath.LegacyNewDecFromStr(config.GasPriceAmount)
	if err != nil {
		return sdk.Coin{}, fmt.Errorf("gas price amount %q is not a decimal: %w", config.GasPriceAmount, err)
	}
	if price.IsNegative() {
		return sdk.Coin{}, fmt.Errorf("gas price amount cannot be negative: %s", price.String())
	}

	feeAmount := price.MulInt64(int64(gasLimit)).Ceil().TruncateInt()
	return sdk.NewCoin(config.GasPriceDenom, feeAmount), nil
}
