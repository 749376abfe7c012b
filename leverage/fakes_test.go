package leverage

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/llamalend/llamalend-go/bandmath"
	"github.com/llamalend/llamalend-go/quote"
)

var (
	testBorrowed   = common.HexToAddress("0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E")
	testCollateral = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testUser       = common.HexToAddress("0x7a16fF8270133F063aAb6C9977183D9e72835428")
)

// fakeViews implements Views with an analytic max_borrowable:
//
//	maxB = (collateral + leverageCollateral) * oracle * kFake(N)
//	kFake(N) = 0.95 * (1 - discount/100) * (1 - ((A-1)/A)^N)
//
// kFake grows with N (so max debt is non-decreasing in band count) and
// sits strictly below KEffective(N) for every N in the allowed range,
// keeping the solver's converged leverage inside the theoretical
// bound.
type fakeViews struct {
	model           *bandmath.Model
	loanDiscountPct decimal.Decimal
	oraclePrice     decimal.Decimal
	state           *UserState
	healthFrac      decimal.Decimal

	maxBorrowableCalls int
	batchRounds        int
	debtN1Calls        int
	debtN1BatchCalls   int
	lastAvgPrice       decimal.Decimal
	lastHealthDColl    decimal.Decimal
	lastHealthDDebt    decimal.Decimal
}

func (f *fakeViews) kFake(bandCount int64) decimal.Decimal {
	width, err := f.model.RangeWidthPct(bandCount)
	if err != nil {
		panic(err)
	}
	discount := decimal.NewFromInt(1).Sub(f.loanDiscountPct.Div(decimal.NewFromInt(100)))
	return decimal.RequireFromString("0.95").Mul(discount).Mul(width.Div(decimal.NewFromInt(100)))
}

func (f *fakeViews) maxBorrowable(collateral, leverageCollateral decimal.Decimal, bandCount int64) decimal.Decimal {
	return collateral.Add(leverageCollateral).Mul(f.oraclePrice).Mul(f.kFake(bandCount))
}

func (f *fakeViews) MaxBorrowable(_ context.Context, collateral, leverageCollateral decimal.Decimal, bandCount int64, avgPrice decimal.Decimal) (decimal.Decimal, error) {
	f.maxBorrowableCalls++
	f.lastAvgPrice = avgPrice
	return f.maxBorrowable(collateral, leverageCollateral, bandCount), nil
}

func (f *fakeViews) MaxBorrowableBatch(_ context.Context, calls []MaxBorrowableCall) ([]decimal.Decimal, error) {
	f.batchRounds++
	out := make([]decimal.Decimal, len(calls))
	for i, call := range calls {
		out[i] = f.maxBorrowable(call.Collateral, call.LeverageCollateral, call.BandCount)
	}
	return out, nil
}

func (f *fakeViews) CalculateDebtN1(_ context.Context, collateral, debt decimal.Decimal, bandCount int64) (int64, error) {
	f.debtN1Calls++
	return 4, nil
}

func (f *fakeViews) CalculateDebtN1Batch(_ context.Context, collateral, debt decimal.Decimal, bandCounts []int64) ([]int64, error) {
	f.debtN1BatchCalls++
	out := make([]int64, len(bandCounts))
	for i := range bandCounts {
		out[i] = 4
	}
	return out, nil
}

func (f *fakeViews) HealthCalculator(_ context.Context, _ common.Address, dCollateral, dDebt decimal.Decimal, _ bool, _ int64) (decimal.Decimal, error) {
	f.lastHealthDColl = dCollateral
	f.lastHealthDDebt = dDebt
	return f.healthFrac, nil
}

func (f *fakeViews) UserState(context.Context, common.Address) (*UserState, error) {
	if f.state == nil {
		return &UserState{}, nil
	}
	return f.state, nil
}

// stubViews lets a test override single methods; everything else
// panics to catch unexpected calls.
type stubViews struct {
	maxBorrowable func(collateral, leverageCollateral decimal.Decimal, bandCount int64, avgPrice decimal.Decimal) (decimal.Decimal, error)
	userState     func() (*UserState, error)
}

func (s *stubViews) MaxBorrowable(_ context.Context, collateral, leverageCollateral decimal.Decimal, bandCount int64, avgPrice decimal.Decimal) (decimal.Decimal, error) {
	return s.maxBorrowable(collateral, leverageCollateral, bandCount, avgPrice)
}
func (s *stubViews) MaxBorrowableBatch(context.Context, []MaxBorrowableCall) ([]decimal.Decimal, error) {
	panic("unexpected MaxBorrowableBatch")
}
func (s *stubViews) CalculateDebtN1(context.Context, decimal.Decimal, decimal.Decimal, int64) (int64, error) {
	panic("unexpected CalculateDebtN1")
}
func (s *stubViews) CalculateDebtN1Batch(context.Context, decimal.Decimal, decimal.Decimal, []int64) ([]int64, error) {
	panic("unexpected CalculateDebtN1Batch")
}
func (s *stubViews) HealthCalculator(context.Context, common.Address, decimal.Decimal, decimal.Decimal, bool, int64) (decimal.Decimal, error) {
	panic("unexpected HealthCalculator")
}
func (s *stubViews) UserState(context.Context, common.Address) (*UserState, error) {
	if s.userState == nil {
		panic("unexpected UserState")
	}
	return s.userState()
}

// fakeSource quotes swaps at a fixed marginal price with linear price
// impact: out = (in/price) * (1 - in/depth).
type fakeSource struct {
	price decimal.Decimal
	depth decimal.Decimal
	calls int
}

func (f *fakeSource) Quote(_ context.Context, in, out common.Address, amountIn, slippage decimal.Decimal) (*quote.Quote, error) {
	f.calls++
	impact := amountIn.DivRound(f.depth, 36)
	outAmount := amountIn.DivRound(f.price, 36).Mul(decimal.NewFromInt(1).Sub(impact))
	return &quote.Quote{
		InputToken:   in,
		OutputToken:  out,
		InputAmount:  amountIn,
		OutputAmount: outAmount,
		PriceImpact:  impact,
		Slippage:     slippage,
		PathID:       "fake-path",
	}, nil
}

type fakeFeed struct {
	price decimal.Decimal
}

func (f *fakeFeed) OraclePrice(context.Context) (decimal.Decimal, error) {
	return f.price, nil
}

func testParams() MarketParams {
	return MarketParams{
		A:               100,
		BasePrice:       decimal.NewFromInt(1),
		LoanDiscountPct: decimal.NewFromInt(9),
		BorrowedToken:   testBorrowed,
		CollateralToken: testCollateral,
	}
}

// newTestEngine wires an engine against the analytic fakes: base and
// oracle price 1, A=100, 9% loan discount, deep fake liquidity.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeViews, *fakeSource) {
	t.Helper()
	params := testParams()
	model, err := bandmath.New(params.A, params.BasePrice)
	require.NoError(t, err)

	fv := &fakeViews{
		model:           model,
		loanDiscountPct: params.LoanDiscountPct,
		oraclePrice:     decimal.NewFromInt(1),
		healthFrac:      decimal.RequireFromString("0.0421"),
	}
	fs := &fakeSource{price: decimal.NewFromInt(1), depth: decimal.New(1, 6)}
	feed := &fakeFeed{price: decimal.NewFromInt(1)}

	engine, err := New(params, fv, feed, append([]Option{WithQuoteSource(fs)}, opts...)...)
	require.NoError(t, err)
	return engine, fv, fs
}
