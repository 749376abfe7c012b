package leverage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BandRange is the contiguous band span [N1, N2] a position occupies.
// N1 is the upper band (higher price, lower index).
type BandRange struct {
	N1 int64
	N2 int64
}

// BandCount returns the number of bands in the range.
func (r BandRange) BandCount() int64 { return r.N2 - r.N1 + 1 }

// RepayProjection is the target state of a position after a repayment
// has been netted out. When Full is true the arithmetic implied full
// repayment: the position closes, and no band computation is done.
type RepayProjection struct {
	Full       bool
	Bands      *BandRange
	Collateral decimal.Decimal
	Debt       decimal.Decimal
}

// LoanBands resolves the bands a loan of the given total collateral
// and debt would occupy over bandCount bands, via the controller's
// debt-to-band formula.
func (e *Engine) LoanBands(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (*BandRange, error) {
	if err := e.checkBandCount(bandCount); err != nil {
		return nil, err
	}
	n1, err := e.views.CalculateDebtN1(ctx, collateral, debt, bandCount)
	if err != nil {
		return nil, err
	}
	return &BandRange{N1: n1, N2: n1 + bandCount - 1}, nil
}

// LoanPrices returns the price bounds of the band range the loan would
// occupy: the upper bound of N1 and the lower bound of N2.
func (e *Engine) LoanPrices(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (upper, lower decimal.Decimal, err error) {
	bands, err := e.LoanBands(ctx, collateral, debt, bandCount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return e.model.TickPrice(bands.N1), e.model.TickPrice(bands.N2 + 1), nil
}

// LoanBandsAllRanges resolves bands for every band count in
// [MinBands, MaxBands]. Band counts whose max borrowable is below the
// requested debt are reported as nil rather than passed to the
// controller, which may revert or return a nonsensical band for an
// invalid combination. The valid band counts go out as one batched
// call.
func (e *Engine) LoanBandsAllRanges(ctx context.Context, collateral, debt decimal.Decimal) (map[int64]*BandRange, error) {
	seed, err := e.seedPrice(ctx)
	if err != nil {
		return nil, err
	}

	calls := make([]MaxBorrowableCall, 0, e.params.MaxBands-e.params.MinBands+1)
	for n := e.params.MinBands; n <= e.params.MaxBands; n++ {
		calls = append(calls, MaxBorrowableCall{
			Collateral: collateral,
			BandCount:  n,
			AvgPrice:   seed,
		})
	}
	maxDebts, err := e.views.MaxBorrowableBatch(ctx, calls)
	if err != nil {
		return nil, err
	}
	if len(maxDebts) != len(calls) {
		return nil, fmt.Errorf("max_borrowable batch: got %d results for %d calls", len(maxDebts), len(calls))
	}

	out := make(map[int64]*BandRange, len(calls))
	available := make([]int64, 0, len(calls))
	for i, call := range calls {
		if debt.LessThanOrEqual(maxDebts[i]) {
			available = append(available, call.BandCount)
		} else {
			out[call.BandCount] = nil
		}
	}
	if len(available) == 0 {
		return out, nil
	}

	n1s, err := e.views.CalculateDebtN1Batch(ctx, collateral, debt, available)
	if err != nil {
		return nil, err
	}
	if len(n1s) != len(available) {
		return nil, fmt.Errorf("calculate_debt_n1 batch: got %d results for %d calls", len(n1s), len(available))
	}
	for i, n := range available {
		out[n] = &BandRange{N1: n1s[i], N2: n1s[i] + n - 1}
	}
	return out, nil
}

// RepayBands projects the band range of a position after repaying with
// collateralSold sold into borrowedRecovered of the borrowed asset.
// A position already under partial liquidation cannot be sized and
// fails with ErrInLiquidation. If the recovered amount covers the
// whole debt the projection reports a full close instead of bands.
func (e *Engine) RepayBands(ctx context.Context, user common.Address, collateralSold, borrowedRecovered decimal.Decimal) (*RepayProjection, error) {
	state, err := e.views.UserState(ctx, user)
	if err != nil {
		return nil, err
	}
	if state.Borrowed.Sign() > 0 {
		return nil, fmt.Errorf("%w: user %s", ErrInLiquidation, user)
	}
	if state.Debt.Sign() == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoLoan, user)
	}

	newCollateral := state.Collateral.Sub(collateralSold)
	if newCollateral.Sign() < 0 {
		return nil, fmt.Errorf("%w: selling %s of %s collateral", ErrStateMismatch, collateralSold, state.Collateral)
	}
	newDebt := state.Debt.Sub(borrowedRecovered)
	if newDebt.Sign() <= 0 {
		return &RepayProjection{Full: true, Collateral: newCollateral}, nil
	}

	n1, err := e.views.CalculateDebtN1(ctx, newCollateral, newDebt, state.BandCount)
	if err != nil {
		return nil, err
	}
	return &RepayProjection{
		Bands:      &BandRange{N1: n1, N2: n1 + state.BandCount - 1},
		Collateral: newCollateral,
		Debt:       newDebt,
	}, nil
}
