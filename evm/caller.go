// Package evm adapts the engine's read-only view interface onto the
// on-chain controller, AMM and leverage router contracts over
// JSON-RPC. All calls are eth_call views; batch variants go out as a
// single JSON-RPC batch. Transaction building stays out of scope.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/llamalend/llamalend-go/leverage"
)

// priceDecimals is the fixed-point scale of on-chain prices, discounts
// and health values.
const priceDecimals = 18

// ErrNoRouter is returned for max_borrowable reads on a market whose
// config carries no leverage router address.
var ErrNoRouter = errors.New("market has no leverage router configured")

const viewsABI = `[
	{"name":"max_borrowable","type":"function","stateMutability":"view","inputs":[{"name":"controller","type":"address"},{"name":"collateral","type":"uint256"},{"name":"leverage_collateral","type":"uint256"},{"name":"n","type":"uint256"},{"name":"p_avg","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"calculate_debt_n1","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"n","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]},
	{"name":"health_calculator","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"d_collateral","type":"int256"},{"name":"d_debt","type":"int256"},{"name":"full","type":"bool"},{"name":"n","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]},
	{"name":"user_state","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[4]"}]},
	{"name":"price_oracle","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"get_base_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"A","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"loan_discount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"liquidation_discount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var views abi.ABI

func init() {
	var err error
	views, err = abi.JSON(strings.NewReader(viewsABI))
	if err != nil {
		panic(err)
	}
}

// Config identifies one market's contracts and token scales.
type Config struct {
	Controller common.Address
	AMM        common.Address

	// Router is the leverage zap exposing max_borrowable. Zero when
	// the market has no leverage router.
	Router common.Address

	BorrowedToken   common.Address
	CollateralToken common.Address

	BorrowedDecimals   int32
	CollateralDecimals int32
}

// Caller implements leverage.Views over a JSON-RPC client.
type Caller struct {
	client *rpc.Client
	cfg    Config
}

func NewCaller(client *rpc.Client, cfg Config) *Caller {
	return &Caller{client: client, cfg: cfg}
}

type callMsg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

func (c *Caller) call(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := views.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var raw hexutil.Bytes
	if err := c.client.CallContext(ctx, &raw, "eth_call", callMsg{To: to, Data: data}, "latest"); err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", method, err)
	}
	out, err := views.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// batchCall issues one JSON-RPC batch of eth_calls and unpacks each
// result with its method.
func (c *Caller) batchCall(ctx context.Context, to common.Address, method string, argSets [][]interface{}) ([][]interface{}, error) {
	elems := make([]rpc.BatchElem, len(argSets))
	results := make([]hexutil.Bytes, len(argSets))
	for i, args := range argSets {
		data, err := views.Pack(method, args...)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg{To: to, Data: data}, "latest"},
			Result: &results[i],
		}
	}
	if err := c.client.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("eth_call batch %s: %w", method, err)
	}
	out := make([][]interface{}, len(elems))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("eth_call batch %s[%d]: %w", method, i, elem.Error)
		}
		vals, err := views.Unpack(method, results[i])
		if err != nil {
			return nil, fmt.Errorf("unpack %s[%d]: %w", method, i, err)
		}
		out[i] = vals
	}
	return out, nil
}

func (c *Caller) MaxBorrowable(ctx context.Context, collateral, leverageCollateral decimal.Decimal, bandCount int64, avgPrice decimal.Decimal) (decimal.Decimal, error) {
	if c.cfg.Router == (common.Address{}) {
		return decimal.Zero, ErrNoRouter
	}
	out, err := c.call(ctx, c.cfg.Router, "max_borrowable",
		c.cfg.Controller,
		toWei(collateral, c.cfg.CollateralDecimals),
		toWei(leverageCollateral, c.cfg.CollateralDecimals),
		big.NewInt(bandCount),
		toWei(avgPrice, priceDecimals),
	)
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(out[0].(*big.Int), c.cfg.BorrowedDecimals), nil
}

func (c *Caller) MaxBorrowableBatch(ctx context.Context, calls []leverage.MaxBorrowableCall) ([]decimal.Decimal, error) {
	if c.cfg.Router == (common.Address{}) {
		return nil, ErrNoRouter
	}
	argSets := make([][]interface{}, len(calls))
	for i, call := range calls {
		argSets[i] = []interface{}{
			c.cfg.Controller,
			toWei(call.Collateral, c.cfg.CollateralDecimals),
			toWei(call.LeverageCollateral, c.cfg.CollateralDecimals),
			big.NewInt(call.BandCount),
			toWei(call.AvgPrice, priceDecimals),
		}
	}
	outs, err := c.batchCall(ctx, c.cfg.Router, "max_borrowable", argSets)
	if err != nil {
		return nil, err
	}
	debts := make([]decimal.Decimal, len(outs))
	for i, out := range outs {
		debts[i] = fromWei(out[0].(*big.Int), c.cfg.BorrowedDecimals)
	}
	return debts, nil
}

func (c *Caller) CalculateDebtN1(ctx context.Context, collateral, debt decimal.Decimal, bandCount int64) (int64, error) {
	out, err := c.call(ctx, c.cfg.Controller, "calculate_debt_n1",
		toWei(collateral, c.cfg.CollateralDecimals),
		toWei(debt, c.cfg.BorrowedDecimals),
		big.NewInt(bandCount),
	)
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Int64(), nil
}

func (c *Caller) CalculateDebtN1Batch(ctx context.Context, collateral, debt decimal.Decimal, bandCounts []int64) ([]int64, error) {
	argSets := make([][]interface{}, len(bandCounts))
	for i, n := range bandCounts {
		argSets[i] = []interface{}{
			toWei(collateral, c.cfg.CollateralDecimals),
			toWei(debt, c.cfg.BorrowedDecimals),
			big.NewInt(n),
		}
	}
	outs, err := c.batchCall(ctx, c.cfg.Controller, "calculate_debt_n1", argSets)
	if err != nil {
		return nil, err
	}
	n1s := make([]int64, len(outs))
	for i, out := range outs {
		n1s[i] = out[0].(*big.Int).Int64()
	}
	return n1s, nil
}

func (c *Caller) HealthCalculator(ctx context.Context, user common.Address, dCollateral, dDebt decimal.Decimal, full bool, bandCount int64) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.cfg.Controller, "health_calculator",
		user,
		toWei(dCollateral, c.cfg.CollateralDecimals),
		toWei(dDebt, c.cfg.BorrowedDecimals),
		full,
		big.NewInt(bandCount),
	)
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(out[0].(*big.Int), priceDecimals), nil
}

func (c *Caller) UserState(ctx context.Context, user common.Address) (*leverage.UserState, error) {
	out, err := c.call(ctx, c.cfg.Controller, "user_state", user)
	if err != nil {
		return nil, err
	}
	vals := out[0].([4]*big.Int)
	return &leverage.UserState{
		Collateral: fromWei(vals[0], c.cfg.CollateralDecimals),
		Borrowed:   fromWei(vals[1], c.cfg.BorrowedDecimals),
		Debt:       fromWei(vals[2], c.cfg.BorrowedDecimals),
		BandCount:  vals[3].Int64(),
	}, nil
}

// OraclePrice reads the AMM's current oracle price.
func (c *Caller) OraclePrice(ctx context.Context) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.cfg.AMM, "price_oracle")
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(out[0].(*big.Int), priceDecimals), nil
}

// MarketParams reads the market's static parameters in one batch:
// amplification factor, base price and the two discounts.
func (c *Caller) MarketParams(ctx context.Context) (leverage.MarketParams, error) {
	reads := []struct {
		to     common.Address
		method string
	}{
		{c.cfg.AMM, "A"},
		{c.cfg.AMM, "get_base_price"},
		{c.cfg.Controller, "loan_discount"},
		{c.cfg.Controller, "liquidation_discount"},
	}
	elems := make([]rpc.BatchElem, len(reads))
	results := make([]hexutil.Bytes, len(reads))
	for i, r := range reads {
		data, err := views.Pack(r.method)
		if err != nil {
			return leverage.MarketParams{}, fmt.Errorf("pack %s: %w", r.method, err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callMsg{To: r.to, Data: data}, "latest"},
			Result: &results[i],
		}
	}
	if err := c.client.BatchCallContext(ctx, elems); err != nil {
		return leverage.MarketParams{}, fmt.Errorf("eth_call batch market params: %w", err)
	}
	vals := make([]*big.Int, len(reads))
	for i, r := range reads {
		if elems[i].Error != nil {
			return leverage.MarketParams{}, fmt.Errorf("eth_call %s: %w", r.method, elems[i].Error)
		}
		out, err := views.Unpack(r.method, results[i])
		if err != nil {
			return leverage.MarketParams{}, fmt.Errorf("unpack %s: %w", r.method, err)
		}
		vals[i] = out[0].(*big.Int)
	}

	hundred := decimal.NewFromInt(100)
	return leverage.MarketParams{
		A:                      vals[0].Int64(),
		BasePrice:              fromWei(vals[1], priceDecimals),
		LoanDiscountPct:        fromWei(vals[2], priceDecimals).Mul(hundred),
		LiquidationDiscountPct: fromWei(vals[3], priceDecimals).Mul(hundred),
		BorrowedToken:          c.cfg.BorrowedToken,
		CollateralToken:        c.cfg.CollateralToken,
	}, nil
}

// toWei scales a decimal token amount to its integer wire value,
// truncating dust below the token's precision.
func toWei(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

func fromWei(x *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(x, -decimals)
}
