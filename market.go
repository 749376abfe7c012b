// Package llamalend sizes and prices leveraged positions on
// bonding-curve lending markets ahead of any transaction: maximum
// borrowable amounts under swap price impact, the discrete liquidation
// bands a position lands in, and projected collateralization health.
//
// The two market families (collateral-backed lending markets and
// mint markets) share one sizing engine; a Market is the thin
// per-market template that wires the engine to that market's contract
// views, price feed and swap router, and owns the market's swap-quote
// cache.
package llamalend

import (
	"errors"

	"github.com/llamalend/llamalend-go/leverage"
	"github.com/llamalend/llamalend-go/quote"
)

// MarketKind distinguishes the two market families. The engine is
// identical for both; the kind only selects adapter wiring and
// reporting.
type MarketKind int

const (
	// KindLend is a collateral-backed lending market.
	KindLend MarketKind = iota
	// KindMint is a mint market borrowing the protocol stablecoin.
	KindMint
)

func (k MarketKind) String() string {
	if k == KindMint {
		return "mint"
	}
	return "lend"
}

// ErrNoLeverage mirrors the engine's error for markets constructed
// without a leverage router.
var ErrNoLeverage = leverage.ErrNoLeverage

// Market is one market template. It lives as long as the process and
// owns the market's swap-quote cache; everything else is computed per
// call.
type Market struct {
	name   string
	kind   MarketKind
	params leverage.MarketParams
	engine *leverage.Engine
	source quote.Source
	quotes *quote.Cache

	engineOpts []leverage.Option
}

type Option func(*Market)

// WithRouter wires the swap-aggregator quote source for leveraged
// operations. Markets without one reject leverage calls with
// ErrNoLeverage.
func WithRouter(src quote.Source) Option {
	return func(m *Market) { m.source = src }
}

// WithEngineOptions forwards tuning options to the sizing engine.
func WithEngineOptions(opts ...leverage.Option) Option {
	return func(m *Market) { m.engineOpts = append(m.engineOpts, opts...) }
}

// NewLendMarket builds a collateral-backed lending market template.
//
// Example:
//
//	caller := evm.NewCaller(rpcClient, cfg)
//	params, _ := caller.MarketParams(ctx)
//	feed := oracle.New(fetchSnapshot)
//	market, _ := llamalend.NewLendMarket("wsteth", params, caller, feed,
//		llamalend.WithRouter(quote.NewRouterSource(routerURL, 1)))
func NewLendMarket(name string, params leverage.MarketParams, views leverage.Views, feed leverage.PriceFeed, opts ...Option) (*Market, error) {
	return newMarket(name, KindLend, params, views, feed, opts...)
}

// NewMintMarket builds a mint-market template. Identical engine; the
// borrowed token is the protocol stablecoin.
func NewMintMarket(name string, params leverage.MarketParams, views leverage.Views, feed leverage.PriceFeed, opts ...Option) (*Market, error) {
	return newMarket(name, KindMint, params, views, feed, opts...)
}

func newMarket(name string, kind MarketKind, params leverage.MarketParams, views leverage.Views, feed leverage.PriceFeed, opts ...Option) (*Market, error) {
	if name == "" {
		return nil, errors.New("market name required")
	}
	m := &Market{
		name:   name,
		kind:   kind,
		quotes: quote.NewCache(),
	}
	for _, fn := range opts {
		fn(m)
	}
	engineOpts := m.engineOpts
	if m.source != nil {
		engineOpts = append(engineOpts, leverage.WithQuoteSource(m.source))
	}
	engine, err := leverage.New(params, views, feed, engineOpts...)
	if err != nil {
		return nil, err
	}
	m.engine = engine
	m.params = engine.Params()
	return m, nil
}

// Name returns the market identifier.
func (m *Market) Name() string { return m.name }

// Kind returns the market family.
func (m *Market) Kind() MarketKind { return m.kind }

// Params returns the market parameters.
func (m *Market) Params() leverage.MarketParams { return m.params }

// Engine exposes the underlying sizing engine.
func (m *Market) Engine() *leverage.Engine { return m.engine }
