package bandmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustModel(t *testing.T, a int64, basePrice string) *Model {
	t.Helper()
	m, err := New(a, decimal.RequireFromString(basePrice))
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	t.Run("rejects A below 2", func(t *testing.T) {
		_, err := New(1, decimal.NewFromInt(1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAmplification)
	})

	t.Run("rejects non-positive base price", func(t *testing.T) {
		_, err := New(100, decimal.Zero)
		assert.ErrorIs(t, err, ErrBasePrice)
	})
}

func TestTickPrice(t *testing.T) {
	m := mustModel(t, 100, "1")

	t.Run("n=0 returns base price", func(t *testing.T) {
		assert.True(t, m.TickPrice(0).Equal(decimal.NewFromInt(1)))
	})

	t.Run("one tick down", func(t *testing.T) {
		assert.Equal(t, "0.99", m.TickPrice(1).String())
	})

	t.Run("negative index goes above base", func(t *testing.T) {
		assert.True(t, m.TickPrice(-1).GreaterThan(m.BasePrice()))
	})

	t.Run("18 decimal places", func(t *testing.T) {
		assert.LessOrEqual(t, -m.TickPrice(7).Exponent(), int32(PriceScale))
	})

	t.Run("monotonically decreasing", func(t *testing.T) {
		for n := int64(-50); n < 50; n++ {
			assert.True(t, m.TickPrice(n).GreaterThan(m.TickPrice(n+1)),
				"tick %d should be above tick %d", n, n+1)
		}
	})
}

func TestBandPrices(t *testing.T) {
	m := mustModel(t, 100, "3000")

	upper, lower := m.BandPrices(0)
	assert.True(t, upper.Equal(m.TickPrice(0)))
	assert.True(t, lower.Equal(m.TickPrice(1)))
	assert.True(t, upper.GreaterThan(lower))
}

func TestOraclePriceBand(t *testing.T) {
	m := mustModel(t, 100, "3000")

	t.Run("rejects non-positive price", func(t *testing.T) {
		_, err := m.OraclePriceBand(decimal.Zero)
		assert.ErrorIs(t, err, ErrOraclePrice)
	})

	t.Run("base price is band 0", func(t *testing.T) {
		n, err := m.OraclePriceBand(decimal.NewFromInt(3000))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("contains the oracle price", func(t *testing.T) {
		for _, p := range []string{"3100", "3000.5", "2999", "2700", "1500", "310.7", "5123.19"} {
			price := decimal.RequireFromString(p)
			n, err := m.OraclePriceBand(price)
			require.NoError(t, err, "price %s", p)
			upper, lower := m.BandPrices(n)
			assert.True(t, price.LessThanOrEqual(upper), "price %s above band %d upper %s", p, n, upper)
			assert.True(t, price.GreaterThanOrEqual(lower), "price %s below band %d lower %s", p, n, lower)
		}
	})

	t.Run("tick boundary resolves to the band it caps", func(t *testing.T) {
		// TickPrice(5) is both the lower bound of band 4 and the upper
		// bound of band 5; the probe must pick band 5.
		n, err := m.OraclePriceBand(m.TickPrice(5))
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("direction follows price vs base", func(t *testing.T) {
		below, err := m.OraclePriceBand(decimal.NewFromInt(2500))
		require.NoError(t, err)
		assert.Positive(t, below)

		above, err := m.OraclePriceBand(decimal.NewFromInt(3500))
		require.NoError(t, err)
		assert.Negative(t, above)
	})
}

func TestRangeWidthPct(t *testing.T) {
	m := mustModel(t, 100, "1")

	t.Run("rejects zero band count", func(t *testing.T) {
		_, err := m.RangeWidthPct(0)
		assert.ErrorIs(t, err, ErrBandCountOfRange)
	})

	t.Run("single band is 1 percent at A=100", func(t *testing.T) {
		w, err := m.RangeWidthPct(1)
		require.NoError(t, err)
		assert.True(t, w.Equal(decimal.NewFromInt(1)), "got %s", w)
	})

	t.Run("wider with more bands, capped below 100", func(t *testing.T) {
		prev := decimal.Zero
		for n := int64(1); n <= 50; n++ {
			w, err := m.RangeWidthPct(n)
			require.NoError(t, err)
			assert.True(t, w.GreaterThan(prev))
			assert.True(t, w.LessThan(decimal.NewFromInt(100)))
			prev = w
		}
	})
}

func TestKEffective(t *testing.T) {
	m := mustModel(t, 100, "1")
	discount := decimal.NewFromInt(9) // 9% loan discount

	t.Run("strictly inside (0,1)", func(t *testing.T) {
		for n := int64(4); n <= 50; n++ {
			k, err := m.KEffective(n, discount)
			require.NoError(t, err)
			assert.True(t, k.GreaterThan(decimal.Zero))
			assert.True(t, k.LessThan(decimal.NewFromInt(1)), "N=%d k=%s", n, k)
		}
	})

	t.Run("decreases with band count", func(t *testing.T) {
		k4, err := m.KEffective(4, discount)
		require.NoError(t, err)
		k50, err := m.KEffective(50, discount)
		require.NoError(t, err)
		assert.True(t, k4.GreaterThan(k50))
	})

	t.Run("higher discount lowers k", func(t *testing.T) {
		kLow, err := m.KEffective(10, decimal.NewFromInt(5))
		require.NoError(t, err)
		kHigh, err := m.KEffective(10, decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.True(t, kLow.GreaterThan(kHigh))
	})
}
