package wallet

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptocodec "github.com/cosmos/cosmos-sdk/crypto/codec"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrKeyringInit     = errors.New("keyring initialization failed")
	ErrKeyNotFound     = errors.New("signing key not found")
	ErrAddressInvalid  = errors.New("address is invalid")
	ErrAddressMismatch = errors.New("keyring address does not match configured operator")
	ErrSDKConfigFailed = errors.New("SDK configuration failed")
	ErrSignFailed      = errors.New("payload signing failed")
)

var walletLogger = logger.GetForComponent("wallet_client")

// Thread-safe SDK configuration using sync.Once
var sdkConfigOnce sync.Once
var sdkConfigError error

// SigningClient holds the operator key and signs custody instruction payloads
// with zero-tolerance validation. Instructions are submitted out of band by
// the custody gateway; this client never talks to the network itself.
type SigningClient struct {
	keyring     keyring.Keyring
	chainID     string
	keyName     string
	fromAddress sdk.AccAddress
}

// NewSigningClient creates a new signing client with comprehensive validation
func NewSigningClient() (*SigningClient, error) {
	// Validate configuration parameters
	if err := validateWalletConfig(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	// Configure SDK safely
	if err := configureSDK(); err != nil {
		return nil, errors.Join(ErrSDKConfigFailed, err)
	}

	// Initialize keyring with proper validation
	kr, err := initializeKeyring()
	if err != nil {
		return nil, errors.Join(ErrKeyringInit, err)
	}

	// Get and validate key information
	fromAddress, err := getAndValidateKey(kr)
	if err != nil {
		return nil, errors.Join(ErrKeyNotFound, err)
	}

	// The derived address must match the configured operator identity. A
	// mismatch means the wrong keyring is mounted and every instruction
	// would be rejected downstream.
	if fromAddress.String() != config.OperatorAddress {
		return nil, errors.Join(ErrAddressMismatch,
			fmt.Errorf("keyring key %s derives %s, config expects %s",
				config.KeyName, fromAddress.String(), config.OperatorAddress))
	}

	client := &SigningClient{
		keyring:     kr,
		chainID:     config.ChainID,
		keyName:     config.KeyName,
		fromAddress: fromAddress,
	}

	// Final validation of the complete client
	if err := validateSigningClientComplete(client); err != nil {
		return nil, fmt.Errorf("signing client validation failed: %w", err)
	}

	walletLogger.Info().
		Str("address", fromAddress.String()).
		Str("keyName", config.KeyName).
		Str("chainID", config.ChainID).
		Msg("Signing client initialized successfully with comprehensive validation")

	return client, nil
}

// validateWalletConfig validates all wallet configuration parameters
func validateWalletConfig() error {
	if config.ChainID == "" {
		return errors.New("chain ID cannot be empty")
	}
	if config.KeyName == "" {
		return errors.New("key name cannot be empty")
	}
	if config.KeyringDir == "" {
		return errors.New("keyring directory cannot be empty")
	}
	if config.KeyringBackend == "" {
		return errors.New("keyring backend cannot be empty")
	}
	if config.OperatorAddress == "" {
		return errors.New("operator address cannot be empty")
	}
	if config.DefaultGasLimit == 0 {
		return errors.New("default gas limit cannot be zero")
	}
	if math.IsNaN(config.GasAdjustment) || math.IsInf(config.GasAdjustment, 0) {
		return errors.New("gas adjustment is not finite")
	}
	if config.GasAdjustment <= 0 || config.GasAdjustment > 10 {
		return errors.New("gas adjustment must be between 0 and 10")
	}
	if config.GasPriceAmount == "" {
		return errors.New("gas price amount cannot be empty")
	}
	if config.GasPriceDenom == "" {
		return errors.New("gas price denomination cannot be empty")
	}
	return nil
}

// configureSDK configures the Cosmos SDK safely using sync.Once for thread safety
func configureSDK() error {
	// Configure SDK to use the vre address prefix - only once globally
	sdkConfigOnce.Do(func() {
		sdkConfig := sdk.GetConfig()
		if sdkConfig == nil {
			sdkConfigError = errors.New("failed to get SDK config")
			return
		}

		sdkConfig.SetBech32PrefixForAccount("vre", "vrepub")
		sdkConfig.SetBech32PrefixForValidator("vrevaloper", "vrevaloperpub")
		sdkConfig.SetBech32PrefixForConsensusNode("vrevalcons", "vrevalconspub")
		sdkConfig.Seal()

		walletLogger.Debug().Msg("SDK configuration initialized successfully")
	})

	// Return any error that occurred during configuration
	return sdkConfigError
}

// initializeKeyring initializes the keyring with proper validation
func initializeKeyring() (keyring.Keyring, error) {
	// Create keyring directory if it doesn't exist
	if err := os.MkdirAll(config.KeyringDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}

	// The keyring only needs a codec that knows the public key types.
	registry := codectypes.NewInterfaceRegistry()
	cryptocodec.RegisterInterfaces(registry)
	cdc := codec.NewProtoCodec(registry)

	kr, err := keyring.New(
		"vred",
		config.KeyringBackend,
		config.KeyringDir,
		os.Stdin,
		cdc,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyring: %w", err)
	}

	if kr == nil {
		return nil, errors.New("keyring creation returned nil")
	}

	return kr, nil
}

// getAndValidateKey retrieves and validates the signing key
func getAndValidateKey(kr keyring.Keyring) (sdk.AccAddress, error) {
	// Get key info
	keyInfo, err := kr.Key(config.KeyName)
	if err != nil {
		return nil, fmt.Errorf("key '%s' not found in keyring: %w", config.KeyName, err)
	}

	if keyInfo == nil {
		return nil, fmt.Errorf("key info for '%s' is nil", config.KeyName)
	}

	// Get address from key
	fromAddress, err := keyInfo.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get address from key: %w", err)
	}

	// Validate address
	if len(fromAddress) == 0 {
		return nil, errors.New("address is empty")
	}

	// Additional address format validation
	if err := sdk.VerifyAddressFormat(fromAddress); err != nil {
		return nil, errors.Join(ErrAddressInvalid, fmt.Errorf("invalid address format: %w", err))
	}

	return fromAddress, nil
}

// validateSigningClientComplete performs final validation of the signing client
func validateSigningClientComplete(client *SigningClient) error {
	if client == nil {
		return errors.New("signing client is nil")
	}
	if client.keyring == nil {
		return errors.New("keyring is nil")
	}
	if client.chainID == "" {
		return errors.New("chain ID is empty")
	}
	if client.keyName == "" {
		return errors.New("key name is empty")
	}
	if len(client.fromAddress) == 0 {
		return errors.New("from address is empty")
	}
	return nil
}

// Address returns the operator's bech32 address.
func (c *SigningClient) Address() string {
	return c.fromAddress.String()
}

// ChainID returns the custody network identifier instructions are bound to.
func (c *SigningClient) ChainID() string {
	return c.chainID
}

// Sign signs an instruction digest with the operator key.
func (c *SigningClient) Sign(payload []byte) ([]byte, cryptotypes.PubKey, error) {
	if c == nil || c.keyring == nil {
		return nil, nil, errors.Join(ErrSignFailed, errors.New("signing client is not initialized"))
	}
	if len(payload) == 0 {
		return nil, nil, errors.Join(ErrSignFailed, errors.New("payload cannot be empty"))
	}

	signature, pubKey, err := c.keyring.Sign(c.keyName, payload, signing.SignMode_SIGN_MODE_DIRECT)
	if err != nil {
		return nil, nil, errors.Join(ErrSignFailed, fmt.Errorf("keyring sign failed: %w", err))
	}
	if len(signature) == 0 {
		return nil, nil, errors.Join(ErrSignFailed, errors.New("keyring returned empty signature"))
	}
	if pubKey == nil {
		return nil, nil, errors.Join(ErrSignFailed, errors.New("keyring returned nil public key"))
	}

	return signature, pubKey, nil
}
