// Package leverage sizes leveraged loans against a bonding-curve
// lending market: the maximum borrowable debt for a deposit (accounting
// for the price impact of swapping the borrowed amount into
// collateral), the discrete liquidation bands the position lands in,
// and the projected collateralization health.
//
// One Engine serves every market family and router generation; the
// differences live entirely in the injected Views and quote.Source
// adapters.
package leverage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/llamalend/llamalend-go/bandmath"
	"github.com/llamalend/llamalend-go/quote"
)

const (
	DefaultMinBands = 4
	DefaultMaxBands = 50

	// maxSolverRounds caps the fixed-point iteration of the sizer. The
	// loop is only empirically convergent; five rounds is enough for
	// realistic liquidity and the solver reports its best estimate
	// rather than erroring past the cap.
	maxSolverRounds = 5

	// amountScale is the decimal precision of intermediate amounts.
	amountScale = 36
)

var (
	ErrNoLeverage    = errors.New("market has no leverage quote source configured")
	ErrBandCount     = errors.New("band count outside allowed range")
	ErrInLiquidation = errors.New("position is under partial liquidation")
	ErrNoLoan        = errors.New("user has no open loan")
	ErrStateMismatch = errors.New("repay amounts exceed position state")
	ErrEmptyQuote    = errors.New("quote source returned no output amount")
)

var (
	one = decimal.NewFromInt(1)

	// convergenceTol is the relative max-debt change below which the
	// solver accepts the previous round: 0.05%.
	defaultConvergenceTol = decimal.New(5, -4)

	// borrowHaircut shaves 0.2% off the raw max_borrowable view result
	// to absorb rounding and state drift between estimate and
	// execution.
	defaultBorrowHaircut = decimal.New(998, -3)
)

// MarketParams are the per-market immutable parameters the engine
// prices against. They are refreshed periodically by the caller, not
// by the engine.
type MarketParams struct {
	A                      int64
	BasePrice              decimal.Decimal
	LoanDiscountPct        decimal.Decimal
	LiquidationDiscountPct decimal.Decimal

	BorrowedToken   common.Address
	CollateralToken common.Address

	MinBands int64
	MaxBands int64
}

// UserState is a point-in-time snapshot of an open position, read from
// the controller. Borrowed is the borrowed-while-liquidating balance:
// non-zero means the AMM has begun converting the position.
type UserState struct {
	Collateral decimal.Decimal
	Borrowed   decimal.Decimal
	Debt       decimal.Decimal
	BandCount  int64
}

// MaxBorrowableCall is one element of a batched max_borrowable round.
type MaxBorrowableCall struct {
	Collateral         decimal.Decimal
	LeverageCollateral decimal.Decimal
	BandCount          int64
	AvgPrice           decimal.Decimal
}

// Views is the read-only controller interface the engine depends on.
// Every method is side-effect free; the batch variants execute all
// calls in a single round trip.
type Views interface {
	MaxBorrowable(ctx context.Context, collateral, leverageCollateral decimal.Decimal, bandCount int64, avgPrice decimal.Decimal) (decimal.Decimal, error)
	MaxBorrowableBatch(ctx context.Context, calls []MaxBorrowableCall) ([]decimal.Decimal, error)
	CalculateDebtN1(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (int64, error)
	CalculateDebtN1Batch(ctx context.Context, collateral, debt decimal.Decimal, bandCounts []int64) ([]int64, error)
	HealthCalculator(ctx context.Context, user common.Address, dCollateral, dDebt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error)
	UserState(ctx context.Context, user common.Address) (*UserState, error)
}

// PriceFeed supplies the current AMM oracle price. Implementations are
// expected to cache on a short TTL; the engine treats every read as
// authoritative at call time.
type PriceFeed interface {
	OraclePrice(ctx context.Context) (decimal.Decimal, error)
}

// Engine is the parameterized sizing engine. It holds no mutable state
// of its own; every computation is a pure function of its inputs plus
// the external reads it performs.
type Engine struct {
	params MarketParams
	model  *bandmath.Model
	views  Views
	feed   PriceFeed
	source quote.Source

	rounds  int
	tol     decimal.Decimal
	haircut decimal.Decimal
}

type Option func(*Engine)

// WithQuoteSource wires the price-impact-aware quote source used by
// the sizer. Markets without one reject leverage operations with
// ErrNoLeverage.
func WithQuoteSource(src quote.Source) Option {
	return func(e *Engine) { e.source = src }
}

// WithSolverRounds overrides the fixed-point iteration cap. The
// default is behaviorally load-bearing; change it only with fixture
// evidence.
func WithSolverRounds(rounds int) Option {
	return func(e *Engine) { e.rounds = rounds }
}

// WithConvergenceTolerance overrides the relative-change threshold at
// which the solver stops early.
func WithConvergenceTolerance(tol decimal.Decimal) Option {
	return func(e *Engine) { e.tol = tol }
}

func New(params MarketParams, views Views, feed PriceFeed, opts ...Option) (*Engine, error) {
	if params.MinBands == 0 {
		params.MinBands = DefaultMinBands
	}
	if params.MaxBands == 0 {
		params.MaxBands = DefaultMaxBands
	}
	if params.MinBands < 1 || params.MaxBands < params.MinBands {
		return nil, fmt.Errorf("%w: min %d max %d", ErrBandCount, params.MinBands, params.MaxBands)
	}
	model, err := bandmath.New(params.A, params.BasePrice)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		params:  params,
		model:   model,
		views:   views,
		feed:    feed,
		rounds:  maxSolverRounds,
		tol:     defaultConvergenceTol,
		haircut: defaultBorrowHaircut,
	}
	for _, fn := range opts {
		fn(e)
	}
	return e, nil
}

// Params returns the market parameters the engine was built with.
func (e *Engine) Params() MarketParams { return e.params }

// Model returns the band price model.
func (e *Engine) Model() *bandmath.Model { return e.model }

// MaxLeverage returns the theoretical leverage bound 1/(1-k_effective)
// for a loan over bandCount bands. The sizer's converged ratio always
// sits strictly below it once swap price impact is paid.
func (e *Engine) MaxLeverage(bandCount int64) (decimal.Decimal, error) {
	if err := e.checkBandCount(bandCount); err != nil {
		return decimal.Zero, err
	}
	k, err := e.model.KEffective(bandCount, e.params.LoanDiscountPct)
	if err != nil {
		return decimal.Zero, err
	}
	return one.DivRound(one.Sub(k), amountScale), nil
}

func (e *Engine) checkBandCount(bandCount int64) error {
	if bandCount < e.params.MinBands || bandCount > e.params.MaxBands {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBandCount, bandCount, e.params.MinBands, e.params.MaxBands)
	}
	return nil
}

// seedPrice returns the solver's conservative starting price: the
// upper bound of the band the oracle price currently sits in. It needs
// no swap quote.
func (e *Engine) seedPrice(ctx context.Context) (decimal.Decimal, error) {
	oraclePrice, err := e.feed.OraclePrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	band, err := e.model.OraclePriceBand(oraclePrice)
	if err != nil {
		return decimal.Zero, err
	}
	return e.model.TickPrice(band), nil
}
