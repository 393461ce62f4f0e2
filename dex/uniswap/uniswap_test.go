package uniswap

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

var (
	usdc = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	weth = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
)

func TestUniswapV2Quote(t *testing.T) {
	caller := testutils.NewFakeCaller()
	caller.Handle(t, QuickSwapRouter, RouterABI, "getAmountsOut", func(args []interface{}) ([]interface{}, error) {
		amountIn := args[0].(*big.Int)
		path := args[1].([]common.Address)
		require.Equal(t, []common.Address{usdc, weth}, path)
		// 1 USDC (6 dec) -> 0.0005 WETH
		out := new(big.Int).Mul(amountIn, big.NewInt(500_000_000))
		return []interface{}{[]*big.Int{amountIn, out}}, nil
	})

	q := NewQuickSwap(QuickSwapRouter, caller, zaptest.NewLogger(t))
	assert.Equal(t, "quickswap", q.Name())
	assert.Equal(t, dex.KindOnChain, q.Kind())

	quote := q.Quote(context.Background(), usdc, weth, big.NewInt(1_000_000))
	require.False(t, quote.IsZero())
	assert.Equal(t, "500000000000000", quote.AmountOut.String())
	assert.Equal(t, "quickswap", quote.Venue)
}

func TestUniswapV2RevertIsZeroQuote(t *testing.T) {
	caller := testutils.NewFakeCaller()
	caller.Handle(t, QuickSwapRouter, RouterABI, "getAmountsOut", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY")
	})

	q := NewUniswapV2("sushiswap", QuickSwapRouter, caller, zaptest.NewLogger(t))
	quote := q.Quote(context.Background(), usdc, weth, big.NewInt(1_000_000))
	assert.True(t, quote.IsZero())
	assert.Equal(t, "sushiswap", quote.Venue)
	assert.Contains(t, quote.Reason, "INSUFFICIENT_LIQUIDITY")
}

func TestUniswapV2RejectsBadInput(t *testing.T) {
	caller := testutils.NewFakeCaller()
	q := NewQuickSwap(QuickSwapRouter, caller, zaptest.NewLogger(t))

	assert.True(t, q.Quote(context.Background(), usdc, usdc, big.NewInt(1)).IsZero())
	assert.True(t, q.Quote(context.Background(), usdc, weth, big.NewInt(0)).IsZero())
	assert.True(t, q.Quote(context.Background(), common.Address{}, weth, big.NewInt(1)).IsZero())
	assert.Equal(t, 0, caller.Calls(QuickSwapRouter, RouterABI, "getAmountsOut"))
}

func feeOf(t *testing.T, params interface{}) uint64 {
	t.Helper()
	v := reflect.ValueOf(params).FieldByName("Fee")
	require.True(t, v.IsValid())
	return v.Interface().(*big.Int).Uint64()
}

func TestUniswapV3TriesFeeTiersInOrder(t *testing.T) {
	caller := testutils.NewFakeCaller()
	pool3000 := testutils.Address("pool-3000")
	pool10000 := testutils.Address("pool-10000")

	var poolLookups []uint64
	caller.Handle(t, V3Factory, FactoryABI, "getPool", func(args []interface{}) ([]interface{}, error) {
		fee := args[2].(*big.Int).Uint64()
		poolLookups = append(poolLookups, fee)
		switch fee {
		case 3000:
			return []interface{}{pool3000}, nil
		case 10000:
			return []interface{}{pool10000}, nil
		}
		return []interface{}{common.Address{}}, nil
	})

	var quoted []uint64
	caller.Handle(t, V3QuoterV2, QuoterV2ABI, "quoteExactInputSingle", func(args []interface{}) ([]interface{}, error) {
		fee := feeOf(t, args[0])
		quoted = append(quoted, fee)
		return []interface{}{big.NewInt(int64(fee) * 10), big.NewInt(0), uint32(1), big.NewInt(80000)}, nil
	})

	v3 := NewUniswapV3(V3QuoterV2, V3Factory, nil, caller, zaptest.NewLogger(t))
	quote := v3.Quote(context.Background(), usdc, weth, big.NewInt(1_000_000))

	require.False(t, quote.IsZero())
	assert.Equal(t, int64(30000), quote.AmountOut.Int64())
	assert.Equal(t, "uniswapv3 fee 3000", quote.RouteSummary)
	// 500 has no pool so the quoter is never called for it; 10000 is never reached
	assert.Equal(t, []uint64{500, 3000}, poolLookups)
	assert.Equal(t, []uint64{3000}, quoted)
}

func TestUniswapV3SkipsRevertingTier(t *testing.T) {
	caller := testutils.NewFakeCaller()
	caller.Handle(t, V3Factory, FactoryABI, "getPool", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{testutils.Address("pool")}, nil
	})
	caller.Handle(t, V3QuoterV2, QuoterV2ABI, "quoteExactInputSingle", func(args []interface{}) ([]interface{}, error) {
		if feeOf(t, args[0]) == 500 {
			return nil, errors.New("execution reverted")
		}
		return []interface{}{big.NewInt(777), big.NewInt(0), uint32(0), big.NewInt(0)}, nil
	})

	v3 := NewUniswapV3(V3QuoterV2, V3Factory, []uint32{500, 3000}, caller, zaptest.NewLogger(t))
	quote := v3.Quote(context.Background(), usdc, weth, big.NewInt(5))
	assert.Equal(t, int64(777), quote.AmountOut.Int64())
}

func TestUniswapV3NoPool(t *testing.T) {
	caller := testutils.NewFakeCaller()
	caller.Handle(t, V3Factory, FactoryABI, "getPool", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{common.Address{}}, nil
	})

	v3 := NewUniswapV3(V3QuoterV2, V3Factory, nil, caller, zaptest.NewLogger(t))
	quote := v3.Quote(context.Background(), usdc, weth, big.NewInt(5))
	assert.True(t, quote.IsZero())
	assert.Equal(t, "uniswapv3", quote.Venue)
	assert.Equal(t, 0, caller.Calls(V3QuoterV2, QuoterV2ABI, "quoteExactInputSingle"))
}
