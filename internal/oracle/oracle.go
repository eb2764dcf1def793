package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no quote exists for a symbol. Callers must
// only ever see this for assets they actually hold; querying unheld denoms
// is a caller bug.
var ErrNotFound = errors.New("oracle: price not found")

// Source supplies USD prices per unit of an asset.
type Source interface {
	PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Cache is a concurrency-safe price table fed by the NATS price feed and
// read by account loading. Quotes are point-in-time: the loader queries per
// evaluation and never caches across accrual boundaries.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
}

type Quote struct {
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewCache creates a price cache. maxAge of zero disables staleness checks.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{quotes: make(map[string]Quote), maxAge: maxAge}
}

// Put stores a quote. Non-positive prices are rejected: a zero quote would
// silently zero collateral valuations instead of failing loudly.
func (c *Cache) Put(symbol string, price decimal.Decimal, at time.Time) error {
	if !price.IsPositive() {
		return fmt.Errorf("oracle: non-positive price %s for %s", price, symbol)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = Quote{Symbol: symbol, PriceUSD: price, UpdatedAt: at}
	return nil
}

// PriceUSD implements Source. Stale quotes count as not found.
func (c *Cache) PriceUSD(_ context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if c.maxAge > 0 && time.Since(q.UpdatedAt) > c.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s (stale since %s)", ErrNotFound, symbol, q.UpdatedAt)
	}
	return q.PriceUSD, nil
}

// Symbols returns the currently quoted symbols.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for s := range c.quotes {
		out = append(out, s)
	}
	return out
}
