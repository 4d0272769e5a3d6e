/*

This file contains the price quote type and the staleness guard. Leverage and
liquidation decisions require a fresh quote; a stale or missing quote is a
hard failure, never a fallback to the last known price.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-labs/vre/internal/types"
)

// Quote is one published price observation for a denom.
type Quote struct {
	Denom string            `json:"denom"`
	Price sdkmath.LegacyDec `json:"price"` // USD per whole token, decimal
	AsOf  int64             `json:"as_of"` // Unix seconds of publication
}

// Validate rejects structurally unusable quotes.
func (q Quote) Validate() error {
	if q.Denom == "" {
		return errors.Join(types.ErrValidation, errors.New("quote denom is empty"))
	}
	if q.Price.IsNil() || !q.Price.IsPositive() {
		return errors.Join(types.ErrValidation, fmt.Errorf("quote price for %s is not positive", q.Denom))
	}
	return nil
}

// Fresh is the staleness guard: it fails when the quote is older than
// maxAgeSeconds at decision time now, or was never published at all. A quote
// timestamped slightly ahead of now is accepted to tolerate clock skew
// between publisher and engine.
func Fresh(q Quote, now, maxAgeSeconds int64) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.AsOf <= 0 {
		return errors.Join(types.ErrStalePriceFeed, fmt.Errorf("no quote published for %s", q.Denom))
	}
	if age := now - q.AsOf; age > maxAgeSeconds {
		return errors.Join(types.ErrStalePriceFeed, fmt.Errorf("quote for %s is %ds old, max age %ds", q.Denom, age, maxAgeSeconds))
	}
	return nil
}

// PriceFeed is the source of quotes. The engine holds one per deployment;
// tests substitute a ManualFeed.
type PriceFeed interface {
	Latest(ctx context.Context, denom string) (Quote, error)
}
