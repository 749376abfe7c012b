// Package quote fetches and caches swap-aggregator quotes. A quote is
// valid only for the exact (input token, input amount) pair it was
// requested with; any change to user inputs requires a new fetch.
package quote

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingQuote     = errors.New("no quote fetched for this token and amount")
	ErrSlippageMismatch = errors.New("execution slippage differs from the cached quote")
	ErrRouteUnavailable = errors.New("aggregator returned no route")
)

// Quote is one swap quote as returned by an aggregator, pinned to the
// exact input amount it was requested with.
type Quote struct {
	InputToken   common.Address
	OutputToken  common.Address
	InputAmount  decimal.Decimal
	OutputAmount decimal.Decimal

	// PriceImpact is the fractional price degradation of the route,
	// e.g. 0.003 for 0.3%.
	PriceImpact decimal.Decimal

	// Slippage is the tolerance the quote was requested with. Execution
	// must reuse the same value or re-quote.
	Slippage decimal.Decimal

	// PathID identifies the route at the aggregator. Empty transiently
	// while the aggregator is still assembling the route.
	PathID string

	// RoutePayload is the opaque calldata fragment the execution layer
	// forwards on-chain.
	RoutePayload []byte

	// PathNames lists the pools the route crosses, for display.
	PathNames []string
}

// AvgPrice returns InputAmount / OutputAmount, the average execution
// price of the quoted swap in input-token terms. A quote with no
// output has no meaningful price and reports zero.
func (q *Quote) AvgPrice() decimal.Decimal {
	if q.OutputAmount.Sign() <= 0 {
		return decimal.Zero
	}
	return q.InputAmount.DivRound(q.OutputAmount, 36)
}

// MinOutputAmount applies the quote's slippage tolerance to the quoted
// output.
func (q *Quote) MinOutputAmount() decimal.Decimal {
	one := decimal.NewFromInt(1)
	return q.OutputAmount.Mul(one.Sub(q.Slippage))
}

// Source produces swap quotes. slippage is fractional (0.005 = 0.5%).
// A Source may return a quote with an empty PathID while the route is
// still being assembled upstream; Cache.FetchAndStore retries those.
type Source interface {
	Quote(ctx context.Context, in, out common.Address, amountIn, slippage decimal.Decimal) (*Quote, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, in, out common.Address, amountIn, slippage decimal.Decimal) (*Quote, error)

func (f SourceFunc) Quote(ctx context.Context, in, out common.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	return f(ctx, in, out, amountIn, slippage)
}
