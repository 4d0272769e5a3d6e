package types

import "errors"

// Error taxonomy for zero-tolerance error handling. Every operation failure
// is one of these sentinels joined with a detail error; callers branch with
// errors.Is and never parse message strings.
var (
	ErrValidation                = errors.New("validation failed")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrBelowMinimumDeposit       = errors.New("deposit below vault minimum")
	ErrDustResult                = errors.New("operation result rounds to zero")
	ErrStalePriceFeed            = errors.New("price feed is stale")
	ErrUnauthorized              = errors.New("caller is not the authority")
	ErrVaultPaused               = errors.New("vault is paused")
	ErrSlippageExceeded          = errors.New("slippage tolerance exceeded")
	ErrArithmeticOverflow        = errors.New("arithmetic overflow")
	ErrNotLiquidatable           = errors.New("position is not liquidatable")
	ErrAllocationWithinThreshold = errors.New("allocation already within threshold")
)
