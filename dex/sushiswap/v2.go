package sushiswap

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/dex/uniswap"
)

// Polygon router address
var (
	PolygonRouter = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
)

const Name = "sushiswap"

// NewSushiswapV2 returns a quoter for the SushiSwap V2 router. The router is
// a Uniswap V2 fork, so it reuses the same getAmountsOut quoter.
func NewSushiswapV2(routerAddr common.Address, caller bind.ContractCaller, logger *zap.Logger) *uniswap.UniswapV2 {
	if routerAddr == (common.Address{}) {
		routerAddr = PolygonRouter
	}
	return uniswap.NewUniswapV2(Name, routerAddr, caller, logger)
}
