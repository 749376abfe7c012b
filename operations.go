package llamalend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/llamalend/llamalend-go/leverage"
	"github.com/llamalend/llamalend-go/quote"
)

// MaxRecv sizes the maximum leveraged loan for a deposit of
// userCollateral collateral tokens plus userBorrowed borrowed tokens
// over bandCount bands. No swap quote needs to be cached: the sizer
// uses the router as a price-impact-aware estimator internally.
//
// Example:
//
//	est, _ := market.MaxRecv(ctx, decimal.NewFromInt(10), decimal.Zero, 10)
func (m *Market) MaxRecv(ctx context.Context, userCollateral, userBorrowed decimal.Decimal, bandCount int64) (*leverage.Estimate, error) {
	return m.engine.MaxRecv(ctx, userCollateral, userBorrowed, bandCount)
}

// MaxRecvAllRanges sizes the maximum leveraged loan for every allowed
// band count at once, batching the controller reads per solver round.
func (m *Market) MaxRecvAllRanges(ctx context.Context, userCollateral, userBorrowed decimal.Decimal) (map[int64]*leverage.Estimate, error) {
	return m.engine.MaxRecvAllRanges(ctx, userCollateral, userBorrowed)
}

// BorrowMoreMaxRecv sizes the additional debt available to an open
// position.
func (m *Market) BorrowMoreMaxRecv(ctx context.Context, user common.Address, userCollateral, userBorrowed decimal.Decimal) (*leverage.Estimate, error) {
	return m.engine.BorrowMoreMaxRecv(ctx, user, userCollateral, userBorrowed)
}

// MaxLeverage returns the theoretical leverage bound for bandCount
// bands, before swap price impact.
func (m *Market) MaxLeverage(bandCount int64) (decimal.Decimal, error) {
	return m.engine.MaxLeverage(bandCount)
}

// RangeWidth returns the price-distance percentage spanned by
// bandCount bands.
func (m *Market) RangeWidth(bandCount int64) (decimal.Decimal, error) {
	return m.engine.Model().RangeWidthPct(bandCount)
}

// CreateLoanBands resolves the bands of a plain, non-leveraged loan.
func (m *Market) CreateLoanBands(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (*leverage.BandRange, error) {
	return m.engine.LoanBands(ctx, collateral, debt, bandCount)
}

// CreateLoanBandsAllRanges resolves bands for every allowed band
// count; band counts that cannot support the debt map to nil.
func (m *Market) CreateLoanBandsAllRanges(ctx context.Context, collateral, debt decimal.Decimal) (map[int64]*leverage.BandRange, error) {
	return m.engine.LoanBandsAllRanges(ctx, collateral, debt)
}

// CreateLoanPrices returns the price bounds of the band range a plain
// loan would occupy.
func (m *Market) CreateLoanPrices(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (upper, lower decimal.Decimal, err error) {
	return m.engine.LoanPrices(ctx, collateral, debt, bandCount)
}

// CreateLoanHealth projects the health of a plain loan.
func (m *Market) CreateLoanHealth(ctx context.Context, user common.Address, collateral, debt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error) {
	return m.engine.LoanHealth(ctx, user, collateral, debt, full, bandCount)
}

// FetchLeverageQuote fetches and caches the execution quote for a
// leveraged loan that swaps debt+userBorrowed of the borrowed asset
// into collateral. The quote is keyed by that exact amount; changing
// debt or userBorrowed requires a new fetch.
func (m *Market) FetchLeverageQuote(ctx context.Context, debt, userBorrowed, slippage decimal.Decimal) (*quote.Quote, error) {
	if m.source == nil {
		return nil, ErrNoLeverage
	}
	amountIn := debt.Add(userBorrowed)
	return m.quotes.FetchAndStore(ctx, m.source, m.params.BorrowedToken, m.params.CollateralToken, amountIn, slippage)
}

// FetchDeleverageQuote fetches and caches the execution quote for a
// deleverage repayment selling collateralSold of collateral into the
// borrowed asset.
func (m *Market) FetchDeleverageQuote(ctx context.Context, collateralSold, slippage decimal.Decimal) (*quote.Quote, error) {
	if m.source == nil {
		return nil, ErrNoLeverage
	}
	return m.quotes.FetchAndStore(ctx, m.source, m.params.CollateralToken, m.params.BorrowedToken, collateralSold, slippage)
}

// LeverageLoanBands resolves the bands of a leveraged loan, using the
// cached quote for the debt+userBorrowed swap to project the total
// collateral. Fails with quote.ErrMissingQuote if no quote was fetched
// for that exact amount.
func (m *Market) LeverageLoanBands(ctx context.Context, userCollateral, userBorrowed, debt decimal.Decimal, bandCount int64) (*leverage.BandRange, error) {
	total, err := m.expectedCollateral(userCollateral, userBorrowed, debt)
	if err != nil {
		return nil, err
	}
	return m.engine.LoanBands(ctx, total, debt, bandCount)
}

// LeverageLoanPrices returns the price bounds of a leveraged loan's
// band range, from the cached quote.
func (m *Market) LeverageLoanPrices(ctx context.Context, userCollateral, userBorrowed, debt decimal.Decimal, bandCount int64) (upper, lower decimal.Decimal, err error) {
	total, err := m.expectedCollateral(userCollateral, userBorrowed, debt)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return m.engine.LoanPrices(ctx, total, debt, bandCount)
}

// LeverageLoanHealth projects the health of a leveraged loan, from
// the cached quote.
func (m *Market) LeverageLoanHealth(ctx context.Context, user common.Address, userCollateral, userBorrowed, debt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error) {
	total, err := m.expectedCollateral(userCollateral, userBorrowed, debt)
	if err != nil {
		return decimal.Zero, err
	}
	return m.engine.LoanHealth(ctx, user, total, debt, full, bandCount)
}

// RepayBands projects the position after a deleverage repayment
// selling collateralSold, using the cached deleverage quote for the
// recovered borrowed amount.
func (m *Market) RepayBands(ctx context.Context, user common.Address, collateralSold decimal.Decimal) (*leverage.RepayProjection, error) {
	q, err := m.quotes.Get(m.params.CollateralToken, collateralSold)
	if err != nil {
		return nil, err
	}
	return m.engine.RepayBands(ctx, user, collateralSold, q.OutputAmount)
}

// RepayHealth projects health after a deleverage repayment, from the
// cached quote. Structurally unavailable repayments project zero.
func (m *Market) RepayHealth(ctx context.Context, user common.Address, collateralSold decimal.Decimal, full bool) (decimal.Decimal, error) {
	q, err := m.quotes.Get(m.params.CollateralToken, collateralSold)
	if err != nil {
		return decimal.Zero, err
	}
	return m.engine.RepayHealth(ctx, user, collateralSold, q.OutputAmount, full)
}

// ExecutionPlan is the tuple handed to the execution layer. The
// payload is always the most recently cached quote for the exact
// amount being executed; this method performs no network I/O.
type ExecutionPlan struct {
	RoutePayload []byte
	PathID       string
	Slippage     decimal.Decimal
	MinOutput    decimal.Decimal
}

// ExecutionPayload returns the cached route for the exact (inputToken,
// amountIn) pair at the given slippage. A missing quote fails with
// quote.ErrMissingQuote. A slippage differing from the one the quote
// was fetched with fails with quote.ErrSlippageMismatch; the payload
// is never silently re-quoted.
func (m *Market) ExecutionPayload(inputToken common.Address, amountIn, slippage decimal.Decimal) (*ExecutionPlan, error) {
	q, err := m.quotes.Checked(inputToken, amountIn, slippage)
	if err != nil {
		return nil, err
	}
	return &ExecutionPlan{
		RoutePayload: q.RoutePayload,
		PathID:       q.PathID,
		Slippage:     q.Slippage,
		MinOutput:    q.MinOutputAmount(),
	}, nil
}

// expectedCollateral projects the total collateral of a leveraged
// loan: the user's own deposit plus the cached quote's output for the
// debt+userBorrowed swap. The quote must have been fetched first for
// that exact amount.
func (m *Market) expectedCollateral(userCollateral, userBorrowed, debt decimal.Decimal) (decimal.Decimal, error) {
	q, err := m.quotes.Get(m.params.BorrowedToken, debt.Add(userBorrowed))
	if err != nil {
		return decimal.Zero, err
	}
	return userCollateral.Add(q.OutputAmount), nil
}
