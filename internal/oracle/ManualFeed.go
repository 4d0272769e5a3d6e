package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meridian-labs/vre/internal/types"
)

// ManualFeed is an in-memory PriceFeed for tests and local development.
// Quotes are whatever was last Set; freshness still runs against them, so
// staleness paths are exercisable by publishing old timestamps.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]Quote)}
}

// Set publishes a quote, replacing any previous one for the denom.
func (m *ManualFeed) Set(q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Denom] = q
	return nil
}

// Latest returns the published quote for denom.
func (m *ManualFeed) Latest(_ context.Context, denom string) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[denom]
	if !ok {
		return Quote{}, errors.Join(types.ErrStalePriceFeed, fmt.Errorf("no quote published for %s", denom))
	}
	return q, nil
}
