package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// routeAttempts bounds the retry loop for quotes whose PathID comes
	// back empty. Aggregators return placeholder quotes transiently;
	// ten attempts with backoff covers the windows seen in practice.
	routeAttempts = 10
	routeBackoff  = 250 * time.Millisecond
)

// Cache stores the most recent quote per exact (input token, input
// amount) key. It lives for the lifetime of a market template and is
// last-write-wins per key, with no TTL: staleness is bounded by the
// slippage gate and by callers re-quoting whenever inputs change.
type Cache struct {
	mu     sync.RWMutex
	quotes map[cacheKey]*Quote
}

type cacheKey struct {
	token  common.Address
	amount string
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[cacheKey]*Quote)}
}

func keyFor(in common.Address, amountIn decimal.Decimal) cacheKey {
	return cacheKey{token: in, amount: amountIn.String()}
}

// FetchAndStore asks src for a quote and stores it under the exact
// (in, amountIn) key, replacing any previous entry. Quotes with an
// empty PathID are retried with backoff up to routeAttempts times;
// exhaustion returns ErrRouteUnavailable.
func (c *Cache) FetchAndStore(ctx context.Context, src Source, in, out common.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	var q *Quote
	for attempt := 1; ; attempt++ {
		var err error
		q, err = src.Quote(ctx, in, out, amountIn, slippage)
		if err != nil {
			return nil, err
		}
		if q.PathID != "" {
			break
		}
		if attempt >= routeAttempts {
			return nil, fmt.Errorf("%w after %d attempts", ErrRouteUnavailable, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(routeBackoff * time.Duration(attempt)):
		}
	}

	c.mu.Lock()
	c.quotes[keyFor(in, amountIn)] = q
	c.mu.Unlock()
	return q, nil
}

// Get returns the cached quote for the exact (in, amountIn) key. A
// miss returns ErrMissingQuote: sizing, band and health calls that
// consume a quote require the caller to have fetched one first, so a
// stale or speculative quote can never back a transaction.
func (c *Cache) Get(in common.Address, amountIn decimal.Decimal) (*Quote, error) {
	c.mu.RLock()
	q, ok := c.quotes[keyFor(in, amountIn)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: token %s amount %s", ErrMissingQuote, in, amountIn)
	}
	return q, nil
}

// Checked returns the cached quote for the key, failing with
// ErrSlippageMismatch if the slippage supplied at execution time is
// not the one the quote was fetched with. Previewing at one slippage
// and executing at another would trade worse than the user approved,
// so the mismatch is surfaced rather than silently re-quoted.
func (c *Cache) Checked(in common.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	q, err := c.Get(in, amountIn)
	if err != nil {
		return nil, err
	}
	if !q.Slippage.Equal(slippage) {
		return nil, fmt.Errorf("%w: quoted at %s, executing at %s", ErrSlippageMismatch, q.Slippage, slippage)
	}
	return q, nil
}
