/*
This file contains checked integer arithmetic for ledger math. sdkmath.Int
panics past its 256-bit cap and on division by zero; these helpers convert
both into the typed overflow error so an operation can abort before any
state is touched.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
)

// CheckedAdd returns a + b, rejecting nil or negative operands.
func CheckedAdd(a, b sdkmath.Int) (result sdkmath.Int, err error) {
	if err := validateOperands(a, b); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer func() {
		if r := recover(); r != nil {
			result = sdkmath.ZeroInt()
			err = errors.Join(types.ErrArithmeticOverflow, fmt.Errorf("add %s + %s: %v", a, b, r))
		}
	}()
	return a.Add(b), nil
}

// CheckedSub returns a - b. A negative result is an underflow: ledger
// quantities are non-negative, so callers must clamp or validate first.
func CheckedSub(a, b sdkmath.Int) (sdkmath.Int, error) {
	if err := validateOperands(a, b); err != nil {
		return sdkmath.ZeroInt(), err
	}
	result := a.Sub(b)
	if result.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrArithmeticOverflow, fmt.Errorf("sub %s - %s underflows", a, b))
	}
	return result, nil
}

// CheckedMul returns a * b.
func CheckedMul(a, b sdkmath.Int) (result sdkmath.Int, err error) {
	if err := validateOperands(a, b); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer func() {
		if r := recover(); r != nil {
			result = sdkmath.ZeroInt()
			err = errors.Join(types.ErrArithmeticOverflow, fmt.Errorf("mul %s * %s: %v", a, b, r))
		}
	}()
	return a.Mul(b), nil
}

// MulDivFloor returns floor(a * b / denom). Truncating division equals floor
// here because operands are validated non-negative.
func MulDivFloor(a, b, denom sdkmath.Int) (sdkmath.Int, error) {
	if err := validateOperands(a, b); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if denom.IsNil() || !denom.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrArithmeticOverflow, fmt.Errorf("division by non-positive denominator %s", denom))
	}
	product, err := CheckedMul(a, b)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return product.Quo(denom), nil
}

// BpsShare returns floor(amount * bps / 10000).
func BpsShare(amount sdkmath.Int, bps uint64) (sdkmath.Int, error) {
	return MulDivFloor(amount, sdkmath.NewIntFromUint64(bps), sdkmath.NewInt(types.BpsDenominator))
}

func validateOperands(values ...sdkmath.Int) error {
	for _, v := range values {
		if v.IsNil() {
			return errors.Join(types.ErrValidation, errors.New("nil arithmetic operand"))
		}
		if v.IsNegative() {
			return errors.Join(types.ErrValidation, fmt.Errorf("negative arithmetic operand %s", v))
		}
	}
	return nil
}
