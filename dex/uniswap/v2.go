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

// Polygon router addresses
var (
	QuickSwapRouter = common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
)

const routerABIJson = `[
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

// RouterABI is the read-only slice of a Uniswap V2 style router
var RouterABI abi.ABI

func init() {
	var err error
	RouterABI, err = abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		panic(fmt.Sprintf("failed to parse router ABI: %v", err))
	}
}

// UniswapV2 quotes a constant-product router with getAmountsOut. QuickSwap,
// SushiSwap and every other V2 fork on Polygon share this code.
type UniswapV2 struct {
	name     string
	router   common.Address
	contract *bind.BoundContract
	logger   *zap.Logger
}

// NewUniswapV2 creates a quoter named name for the router at routerAddr
func NewUniswapV2(name string, routerAddr common.Address, caller bind.ContractCaller, logger *zap.Logger) *UniswapV2 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UniswapV2{
		name:     name,
		router:   routerAddr,
		contract: bind.NewBoundContract(routerAddr, RouterABI, caller, nil, nil),
		logger:   logger.With(zap.String("venue", name)),
	}
}

// NewQuickSwap returns the QuickSwap V2 router quoter
func NewQuickSwap(routerAddr common.Address, caller bind.ContractCaller, logger *zap.Logger) *UniswapV2 {
	return NewUniswapV2("quickswap", routerAddr, caller, logger)
}

func (u *UniswapV2) Name() string {
	return u.name
}

func (u *UniswapV2) Kind() dex.VenueKind {
	return dex.KindOnChain
}

// RouterAddress returns the router contract address
func (u *UniswapV2) RouterAddress() common.Address {
	return u.router
}

// Quote calls getAmountsOut(amountIn, [tokenIn, tokenOut]). A revert (no pair,
// no liquidity) is a zero quote.
func (u *UniswapV2) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	if reason := dex.ValidInput(tokenIn, tokenOut, amountIn); reason != "" {
		return types.NoQuote(u.name, reason)
	}

	amounts, err := u.GetAmountsOut(ctx, amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		u.logger.Debug("getAmountsOut failed",
			zap.String("tokenIn", tokenIn.Hex()),
			zap.String("tokenOut", tokenOut.Hex()),
			zap.Error(err))
		return types.NoQuote(u.name, fmt.Sprintf("router call failed: %v", err))
	}

	out := amounts[len(amounts)-1]
	if out.Sign() <= 0 {
		return types.NoQuote(u.name, "zero output")
	}
	return &types.Quote{
		AmountOut:    out,
		Venue:        u.name,
		RouteSummary: u.name + " v2",
	}
}

// GetAmountsOut returns the router's amounts for the whole path
func (u *UniswapV2) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	var out []interface{}
	if err := u.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected output length %d", len(out))
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("unexpected getAmountsOut result")
	}
	return amounts, nil
}
