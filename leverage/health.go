package leverage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Health projects the collateralization health of user's position
// after applying the collateral and debt deltas, as a percentage. The
// formula itself is protocol-defined and delegated to the controller's
// health_calculator view; the engine only supplies correct deltas.
// full distinguishes full health (counting collateral value above the
// band range) from current health.
func (e *Engine) Health(ctx context.Context, user common.Address, dCollateral, dDebt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error) {
	h, err := e.views.HealthCalculator(ctx, user, dCollateral, dDebt, full, bandCount)
	if err != nil {
		return decimal.Zero, err
	}
	return h.Mul(hundred), nil
}

// LoanHealth projects health for opening (or leveraging up) a loan
// that adds totalCollateral and debt over bandCount bands.
func (e *Engine) LoanHealth(ctx context.Context, user common.Address, totalCollateral, debt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error) {
	if err := e.checkBandCount(bandCount); err != nil {
		return decimal.Zero, err
	}
	return e.Health(ctx, user, totalCollateral, debt, full, bandCount)
}

// RepayHealth projects health after a deleverage repayment. Actions
// that are structurally unavailable short-circuit to zero without a
// contract call: a position under partial liquidation cannot be
// repaid this way, and a repayment that closes the loan has no health
// to project.
func (e *Engine) RepayHealth(ctx context.Context, user common.Address, collateralSold, borrowedRecovered decimal.Decimal, full bool) (decimal.Decimal, error) {
	state, err := e.views.UserState(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	if state.Borrowed.Sign() > 0 || state.Debt.Sign() == 0 {
		return decimal.Zero, nil
	}
	if state.Debt.LessThanOrEqual(borrowedRecovered) {
		return decimal.Zero, nil
	}
	return e.Health(ctx, user, collateralSold.Neg(), borrowedRecovered.Neg(), full, state.BandCount)
}
