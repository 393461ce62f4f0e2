package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/types"
)

// Polygon deployment
var (
	V3QuoterV2 = common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	V3Factory  = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
)

// DefaultFeeTiers is the lookup order: 0.05%, 0.3%, 1%
var DefaultFeeTiers = []uint32{500, 3000, 10000}

const quoterV2ABIJson = `[
	{"inputs":[{"components":[
		{"internalType":"address","name":"tokenIn","type":"address"},
		{"internalType":"address","name":"tokenOut","type":"address"},
		{"internalType":"uint256","name":"amountIn","type":"uint256"},
		{"internalType":"uint24","name":"fee","type":"uint24"},
		{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
		"internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],
	"name":"quoteExactInputSingle",
	"outputs":[
		{"internalType":"uint256","name":"amountOut","type":"uint256"},
		{"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},
		{"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},
		{"internalType":"uint256","name":"gasEstimate","type":"uint256"}],
	"stateMutability":"nonpayable","type":"function"}
]`

const factoryABIJson = `[
	{"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],"stateMutability":"view","type":"function"}
]`

var (
	QuoterV2ABI abi.ABI
	FactoryABI  abi.ABI
)

func init() {
	var err error
	if QuoterV2ABI, err = abi.JSON(strings.NewReader(quoterV2ABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse quoter ABI: %v", err))
	}
	if FactoryABI, err = abi.JSON(strings.NewReader(factoryABIJson)); err != nil {
		panic(fmt.Sprintf("failed to parse factory ABI: %v", err))
	}
}

// quoteExactInputSingleParams mirrors IQuoterV2.QuoteExactInputSingleParams
type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// UniswapV3 quotes concentrated-liquidity pools through QuoterV2. Fee tiers
// are tried in order and the first tier with a pool that does not revert
// wins; it does not search for the best tier.
type UniswapV3 struct {
	name     string
	quoter   *bind.BoundContract
	factory  *bind.BoundContract
	feeTiers []uint32
	logger   *zap.Logger
}

func NewUniswapV3(quoterAddr, factoryAddr common.Address, feeTiers []uint32, caller bind.ContractCaller, logger *zap.Logger) *UniswapV3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(feeTiers) == 0 {
		feeTiers = DefaultFeeTiers
	}
	return &UniswapV3{
		name:     "uniswapv3",
		quoter:   bind.NewBoundContract(quoterAddr, QuoterV2ABI, caller, nil, nil),
		factory:  bind.NewBoundContract(factoryAddr, FactoryABI, caller, nil, nil),
		feeTiers: feeTiers,
		logger:   logger.With(zap.String("venue", "uniswapv3")),
	}
}

func (u *UniswapV3) Name() string {
	return u.name
}

func (u *UniswapV3) Kind() dex.VenueKind {
	return dex.KindOnChain
}

func (u *UniswapV3) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	if reason := dex.ValidInput(tokenIn, tokenOut, amountIn); reason != "" {
		return types.NoQuote(u.name, reason)
	}

	for _, fee := range u.feeTiers {
		if ctx.Err() != nil {
			return types.NoQuote(u.name, ctx.Err().Error())
		}

		pool, err := u.getPool(ctx, tokenIn, tokenOut, fee)
		if err != nil || pool == (common.Address{}) {
			continue
		}

		out, err := u.quoteSingle(ctx, tokenIn, tokenOut, fee, amountIn)
		if err != nil {
			u.logger.Debug("Fee tier reverted", zap.Uint32("fee", fee), zap.Error(err))
			continue
		}
		if out.Sign() <= 0 {
			continue
		}
		return &types.Quote{
			AmountOut:    out,
			Venue:        u.name,
			RouteSummary: fmt.Sprintf("uniswapv3 fee %d", fee),
		}
	}

	return types.NoQuote(u.name, "no pool at any fee tier")
}

func (u *UniswapV3) getPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	var out []interface{}
	if err := u.factory.Call(&bind.CallOpts{Context: ctx}, &out, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee))); err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected getPool output")
	}
	pool, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPool type %T", out[0])
	}
	return pool, nil
}

func (u *UniswapV3) quoteSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	params := quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		SqrtPriceLimitX96: new(big.Int),
	}

	var out []interface{}
	if err := u.quoter.Call(&bind.CallOpts{Context: ctx}, &out, "quoteExactInputSingle", params); err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected quoter output length %d", len(out))
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quoter output type %T", out[0])
	}
	return amountOut, nil
}
