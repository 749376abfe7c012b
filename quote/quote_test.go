package quote

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQuoteAvgPrice(t *testing.T) {
	t.Run("input over output", func(t *testing.T) {
		q := &Quote{
			InputAmount:  decimal.NewFromInt(3000),
			OutputAmount: decimal.NewFromInt(2),
		}
		assert.True(t, q.AvgPrice().Equal(decimal.NewFromInt(1500)))
	})

	t.Run("zero output has no price", func(t *testing.T) {
		q := &Quote{
			InputAmount:  decimal.NewFromInt(3000),
			OutputAmount: decimal.Zero,
		}
		assert.True(t, q.AvgPrice().IsZero())
	})
}

func TestQuoteMinOutputAmount(t *testing.T) {
	q := &Quote{
		OutputAmount: decimal.NewFromInt(1000),
		Slippage:     decimal.RequireFromString("0.005"),
	}
	assert.True(t, q.MinOutputAmount().Equal(decimal.NewFromInt(995)))
}
