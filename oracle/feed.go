// Package oracle caches the market's price snapshot on a short TTL.
// The engine treats every read as authoritative at call time; the TTL
// only bounds how often the underlying contract reads go out.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTTL matches the refresh cadence of the upstream stats module.
const DefaultTTL = 15 * time.Second

// Snapshot is one read of the market's price state.
type Snapshot struct {
	OraclePrice decimal.Decimal
	BasePrice   decimal.Decimal
	A           int64
}

// Fetch reads a fresh snapshot from the chain.
type Fetch func(ctx context.Context) (*Snapshot, error)

// Feed serves snapshots from cache while they are younger than the
// TTL, refetching under a single lock so concurrent callers trigger at
// most one upstream read.
type Feed struct {
	fetch Fetch
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	snap      *Snapshot
	fetchedAt time.Time
}

type Option func(*Feed)

func WithTTL(ttl time.Duration) Option {
	return func(f *Feed) { f.ttl = ttl }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

func New(fetch Fetch, opts ...Option) *Feed {
	f := &Feed{
		fetch: fetch,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, fn := range opts {
		fn(f)
	}
	return f
}

// Snapshot returns the cached snapshot, refreshing it first if it is
// older than the TTL.
func (f *Feed) Snapshot(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap != nil && f.now().Sub(f.fetchedAt) < f.ttl {
		return f.snap, nil
	}
	return f.refreshLocked(ctx)
}

// Refresh discards the cache and fetches now.
func (f *Feed) Refresh(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshLocked(ctx)
}

func (f *Feed) refreshLocked(ctx context.Context) (*Snapshot, error) {
	snap, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	f.snap = snap
	f.fetchedAt = f.now()
	return snap, nil
}

// OraclePrice satisfies the engine's price feed interface.
func (f *Feed) OraclePrice(ctx context.Context) (decimal.Decimal, error) {
	snap, err := f.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.OraclePrice, nil
}
