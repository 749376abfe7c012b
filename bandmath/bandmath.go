// Package bandmath prices the discrete liquidation bands of a
// bonding-curve lending market. Band n spans the price interval
// [basePrice*((A-1)/A)^(n+1), basePrice*((A-1)/A)^n], so lower indexes
// sit at higher prices.
package bandmath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of decimal places band prices carry.
	PriceScale = 18

	// workScale is the internal precision used between multiplications.
	// Rounding each step keeps coefficients bounded and the result
	// deterministic across call sites.
	workScale = 36

	// probeLimit bounds the oracle band walk. A band this far from the
	// base price is below any representable oracle price for real A.
	probeLimit = 10_000
)

var (
	ErrAmplification    = errors.New("amplification factor must be at least 2")
	ErrBasePrice        = errors.New("base price must be positive")
	ErrOraclePrice      = errors.New("oracle price must be positive")
	ErrProbeExhausted   = errors.New("oracle price outside band probe range")
	ErrBandCountOfRange = errors.New("band count must be at least 1")
)

var oneHundred = decimal.NewFromInt(100)

// Model converts between band indexes and prices for one market.
// It is pure math over the market's base price and amplification
// factor; it performs no I/O.
type Model struct {
	a         int64
	basePrice decimal.Decimal
	ratio     decimal.Decimal // (A-1)/A
	invRatio  decimal.Decimal // A/(A-1)
}

// New builds a Model. The amplification factor must be >= 2 (with A=1
// the band ratio collapses to zero and every tick below the base price
// is worthless).
func New(a int64, basePrice decimal.Decimal) (*Model, error) {
	if a < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrAmplification, a)
	}
	if basePrice.Sign() <= 0 {
		return nil, ErrBasePrice
	}
	return &Model{
		a:         a,
		basePrice: basePrice,
		ratio:     decimal.NewFromInt(a - 1).DivRound(decimal.NewFromInt(a), workScale),
		invRatio:  decimal.NewFromInt(a).DivRound(decimal.NewFromInt(a-1), workScale),
	}, nil
}

// A returns the amplification factor.
func (m *Model) A() int64 { return m.a }

// BasePrice returns the market base price the model was built with.
func (m *Model) BasePrice() decimal.Decimal { return m.basePrice }

// TickPrice returns basePrice * ((A-1)/A)^n truncated to 18 decimal
// places. Negative n is allowed and yields prices above the base price.
func (m *Model) TickPrice(n int64) decimal.Decimal {
	return m.basePrice.Mul(m.ratioPow(n)).Truncate(PriceScale)
}

// BandPrices returns the price bounds of band n as (upper, lower),
// i.e. (TickPrice(n), TickPrice(n+1)).
func (m *Model) BandPrices(n int64) (upper, lower decimal.Decimal) {
	return m.TickPrice(n), m.TickPrice(n + 1)
}

// OraclePriceBand returns the band n whose price interval contains the
// oracle price, walking one tick at a time away from the base price.
// The walk is linear because band indexes must be exact integers usable
// by the on-chain AMM; a closed-form log solve would need a final
// integer correction step anyway. A price equal to a tick boundary
// resolves to the band it is the upper bound of.
func (m *Model) OraclePriceBand(oraclePrice decimal.Decimal) (int64, error) {
	if oraclePrice.Sign() <= 0 {
		return 0, ErrOraclePrice
	}

	var n int64
	if oraclePrice.GreaterThan(m.basePrice) {
		// Walk up in price (down in index) until the upper bound covers it.
		for oraclePrice.GreaterThan(m.TickPrice(n)) {
			n--
			if n < -probeLimit {
				return 0, ErrProbeExhausted
			}
		}
		return n, nil
	}
	// Walk down in price (up in index) until the lower bound is reached.
	for oraclePrice.LessThan(m.TickPrice(n + 1)) {
		n++
		if n > probeLimit {
			return 0, ErrProbeExhausted
		}
	}
	// Equality with the lower bound belongs to the band below, which has
	// that tick as its upper bound.
	if oraclePrice.Equal(m.TickPrice(n+1)) && !oraclePrice.Equal(m.TickPrice(n)) {
		return n + 1, nil
	}
	return n, nil
}

// RangeWidthPct returns the price distance spanned by N bands as a
// percentage of the range's upper price: 100 * (1 - ((A-1)/A)^N).
func (m *Model) RangeWidthPct(bandCount int64) (decimal.Decimal, error) {
	if bandCount < 1 {
		return decimal.Zero, ErrBandCountOfRange
	}
	return oneHundred.Mul(decimal.NewFromInt(1).Sub(m.ratioPow(bandCount))), nil
}

// KEffective returns the effective collateralization factor for a loan
// over bandCount bands at the given loan discount (percent). It bounds
// the maximum safe leverage at 1/(1-k).
//
//	d = (1 - discount/100) * sqrt((A-1)/A) / N
//	k = d * sum_{i=0}^{N-1} ((A-1)/A)^i
func (m *Model) KEffective(bandCount int64, loanDiscountPct decimal.Decimal) (decimal.Decimal, error) {
	if bandCount < 1 {
		return decimal.Zero, ErrBandCountOfRange
	}
	discount := loanDiscountPct.Div(oneHundred)
	d := decimal.NewFromInt(1).Sub(discount).
		Mul(sqrt(m.ratio, workScale)).
		DivRound(decimal.NewFromInt(bandCount), workScale)

	// Geometric series: sum = (1 - r^N) / (1 - r).
	num := decimal.NewFromInt(1).Sub(m.ratioPow(bandCount))
	den := decimal.NewFromInt(1).Sub(m.ratio)
	sum := num.DivRound(den, workScale)

	return d.Mul(sum).Round(workScale), nil
}

// ratioPow computes ((A-1)/A)^n by squaring, rounding to workScale
// between multiplications. Exact for n=0 (returns 1); negative n uses
// the inverse ratio.
func (m *Model) ratioPow(n int64) decimal.Decimal {
	base := m.ratio
	if n < 0 {
		base = m.invRatio
		n = -n
	}
	result := decimal.NewFromInt(1)
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Round(workScale)
		}
		base = base.Mul(base).Round(workScale)
		n >>= 1
	}
	return result
}

// sqrt computes the square root of a non-negative decimal at the given
// scale via big.Float, which carries enough mantissa for workScale
// digits.
func sqrt(x decimal.Decimal, scale int32) decimal.Decimal {
	if x.Sign() < 0 {
		panic("bandmath: sqrt on negative decimal")
	}
	f := new(big.Float).SetPrec(uint(scale) * 8).Sqrt(x.BigFloat())
	out, err := decimal.NewFromString(f.Text('f', int(scale)))
	if err != nil {
		panic(err)
	}
	return out
}
