package leverage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/llamalend/llamalend-go/quote"
)

// Estimate is the result of a max-borrowable solve. The collateral
// portions always sum to MaxTotalCollateral (within solver tolerance):
// the user's own deposit, the collateral bought with the user's
// borrowed-asset deposit, and the collateral bought with the new debt.
type Estimate struct {
	MaxDebt                decimal.Decimal
	MaxTotalCollateral     decimal.Decimal
	UserCollateral         decimal.Decimal
	CollateralFromBorrowed decimal.Decimal
	CollateralFromDebt     decimal.Decimal

	// MaxLeverage is MaxTotalCollateral over the user's effective
	// deposit (own collateral plus borrowed deposit at AvgPrice).
	MaxLeverage decimal.Decimal

	// AvgPrice is the average execution price of the sizing swap at the
	// last accepted round.
	AvgPrice decimal.Decimal

	BandCount int64
}

// MaxRecv solves for the maximum total debt the market will extend for
// a leveraged deposit over bandCount bands.
//
// The swap that converts the borrowed amount into collateral has price
// impact that depends on the borrowed amount itself, so the solve is a
// fixed-point iteration: seed the average execution price with the
// upper bound of the oracle's current band, ask the controller for the
// max debt at that price, quote the swap of that debt, re-derive the
// price, and repeat until the debt moves less than the tolerance or
// the round cap is hit.
//
// Example:
//
//	est, _ := engine.MaxRecv(ctx, decimal.NewFromInt(10), decimal.Zero, 10)
//	fmt.Println(est.MaxDebt, est.MaxLeverage)
func (e *Engine) MaxRecv(ctx context.Context, userCollateral, userBorrowed decimal.Decimal, bandCount int64) (*Estimate, error) {
	if e.source == nil {
		return nil, ErrNoLeverage
	}
	if err := e.checkBandCount(bandCount); err != nil {
		return nil, err
	}
	seed, err := e.seedPrice(ctx)
	if err != nil {
		return nil, err
	}
	debt, avgPrice, err := e.solveMaxDebt(ctx, userCollateral, userBorrowed, decimal.Zero, bandCount, seed)
	if err != nil {
		return nil, err
	}
	return e.assembleEstimate(userCollateral, userBorrowed, debt, avgPrice, bandCount), nil
}

// MaxRecvAllRanges runs the MaxRecv solve for every band count in
// [MinBands, MaxBands] at once. Within each round the max_borrowable
// reads for all still-active band counts go out as a single batch, so
// the number of controller round trips is bounded by the round cap,
// not by the number of band counts.
func (e *Engine) MaxRecvAllRanges(ctx context.Context, userCollateral, userBorrowed decimal.Decimal) (map[int64]*Estimate, error) {
	if e.source == nil {
		return nil, ErrNoLeverage
	}
	seed, err := e.seedPrice(ctx)
	if err != nil {
		return nil, err
	}

	type nState struct {
		bandCount int64
		avgPrice  decimal.Decimal
		levColl   decimal.Decimal
		debt      decimal.Decimal
		done      bool
	}

	states := make([]*nState, 0, e.params.MaxBands-e.params.MinBands+1)
	for n := e.params.MinBands; n <= e.params.MaxBands; n++ {
		states = append(states, &nState{bandCount: n, avgPrice: seed})
	}

	for round := 0; round < e.rounds; round++ {
		active := make([]*nState, 0, len(states))
		calls := make([]MaxBorrowableCall, 0, len(states))
		for _, st := range states {
			if st.done {
				continue
			}
			active = append(active, st)
			calls = append(calls, MaxBorrowableCall{
				Collateral:         userCollateral.Add(userBorrowed.DivRound(st.avgPrice, amountScale)),
				LeverageCollateral: st.levColl,
				BandCount:          st.bandCount,
				AvgPrice:           st.avgPrice,
			})
		}
		if len(active) == 0 {
			break
		}

		raws, err := e.views.MaxBorrowableBatch(ctx, calls)
		if err != nil {
			return nil, err
		}
		if len(raws) != len(active) {
			return nil, fmt.Errorf("max_borrowable batch: got %d results for %d calls", len(raws), len(active))
		}

		for i, st := range active {
			debt := raws[i].Mul(e.haircut)
			if debt.Sign() <= 0 {
				st.debt = decimal.Zero
				st.done = true
				continue
			}
			if round > 0 && relChange(debt, st.debt).LessThan(e.tol) {
				st.done = true
				continue
			}
			st.debt = debt
			if round == e.rounds-1 {
				continue
			}
			swapIn := debt.Add(userBorrowed)
			q, err := e.sizingQuote(ctx, swapIn)
			if err != nil {
				return nil, err
			}
			st.avgPrice = swapIn.DivRound(q.OutputAmount, amountScale)
			st.levColl = q.OutputAmount.Sub(userBorrowed.DivRound(st.avgPrice, amountScale))
		}
	}

	out := make(map[int64]*Estimate, len(states))
	for _, st := range states {
		out[st.bandCount] = e.assembleEstimate(userCollateral, userBorrowed, st.debt, st.avgPrice, st.bandCount)
	}
	return out, nil
}

// BorrowMoreMaxRecv sizes the additional debt available to a user who
// already has an open loan, netting out the position's current
// collateral and debt. Sizing is undefined while the AMM is partially
// liquidating the position, so a non-zero borrowed-while-liquidating
// balance fails fast with ErrInLiquidation.
func (e *Engine) BorrowMoreMaxRecv(ctx context.Context, user common.Address, userCollateral, userBorrowed decimal.Decimal) (*Estimate, error) {
	if e.source == nil {
		return nil, ErrNoLeverage
	}
	state, err := e.views.UserState(ctx, user)
	if err != nil {
		return nil, err
	}
	if state.Borrowed.Sign() > 0 {
		return nil, fmt.Errorf("%w: user %s", ErrInLiquidation, user)
	}
	if state.Debt.Sign() == 0 || state.BandCount == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoLoan, user)
	}
	seed, err := e.seedPrice(ctx)
	if err != nil {
		return nil, err
	}
	debt, avgPrice, err := e.solveMaxDebt(ctx, userCollateral.Add(state.Collateral), userBorrowed, state.Debt, state.BandCount, seed)
	if err != nil {
		return nil, err
	}
	return e.assembleEstimate(userCollateral, userBorrowed, debt, avgPrice, state.BandCount), nil
}

// solveMaxDebt is the fixed-point core shared by the sizing entry
// points. userCollateral includes any existing position collateral;
// existingDebt is netted out so the returned figure is the debt this
// action may add. Returns the last accepted debt and average price.
func (e *Engine) solveMaxDebt(ctx context.Context, userCollateral, userBorrowed, existingDebt decimal.Decimal, bandCount int64, seed decimal.Decimal) (debt, avgPrice decimal.Decimal, err error) {
	avgPrice = seed
	levColl := decimal.Zero
	debt = decimal.Zero

	for round := 0; round < e.rounds; round++ {
		effColl := userCollateral.Add(userBorrowed.DivRound(avgPrice, amountScale))
		raw, err := e.views.MaxBorrowable(ctx, effColl, levColl, bandCount, avgPrice)
		if err != nil {
			return decimal.Zero, avgPrice, err
		}
		next := raw.Mul(e.haircut).Sub(existingDebt)
		if next.Sign() <= 0 {
			return decimal.Zero, avgPrice, nil
		}
		if round > 0 && relChange(next, debt).LessThan(e.tol) {
			return debt, avgPrice, nil
		}
		debt = next
		if round == e.rounds-1 {
			break
		}

		swapIn := debt.Add(userBorrowed)
		q, err := e.sizingQuote(ctx, swapIn)
		if err != nil {
			return decimal.Zero, avgPrice, err
		}
		avgPrice = swapIn.DivRound(q.OutputAmount, amountScale)
		levColl = q.OutputAmount.Sub(userBorrowed.DivRound(avgPrice, amountScale))
	}
	return debt, avgPrice, nil
}

// sizingQuote fetches the sizing swap quote and rejects one with no
// output. Aggregators can return a routed quote with a zero output for
// an illiquid pair; dividing by it to derive the average price would
// panic.
func (e *Engine) sizingQuote(ctx context.Context, swapIn decimal.Decimal) (*quote.Quote, error) {
	q, err := e.source.Quote(ctx, e.params.BorrowedToken, e.params.CollateralToken, swapIn, decimal.Zero)
	if err != nil {
		return nil, err
	}
	if q.OutputAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: swapping %s %s", ErrEmptyQuote, swapIn, e.params.BorrowedToken)
	}
	return q, nil
}

func (e *Engine) assembleEstimate(userCollateral, userBorrowed, debt, avgPrice decimal.Decimal, bandCount int64) *Estimate {
	est := &Estimate{
		MaxDebt:        debt,
		UserCollateral: userCollateral,
		AvgPrice:       avgPrice,
		BandCount:      bandCount,
	}
	if avgPrice.Sign() > 0 {
		est.CollateralFromBorrowed = userBorrowed.DivRound(avgPrice, amountScale)
		est.CollateralFromDebt = debt.DivRound(avgPrice, amountScale)
	}
	est.MaxTotalCollateral = est.UserCollateral.Add(est.CollateralFromBorrowed).Add(est.CollateralFromDebt)

	deposit := est.UserCollateral.Add(est.CollateralFromBorrowed)
	if deposit.Sign() > 0 {
		est.MaxLeverage = est.MaxTotalCollateral.DivRound(deposit, amountScale)
	}
	return est
}

// relChange returns |next-prev| / prev.
func relChange(next, prev decimal.Decimal) decimal.Decimal {
	return next.Sub(prev).Abs().DivRound(prev, amountScale)
}
