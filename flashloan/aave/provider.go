package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	umath "github.com/michaelpento.lv/polyarb/utils/math"
)

// Aave V3 deployments on Polygon PoS
var (
	PolygonPool         = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	PolygonDataProvider = common.HexToAddress("0x69FA688f1Dc47d4B5d8029D5a35FB7a548310654")
)

const poolABIJson = `[
	{
		"inputs": [],
		"name": "FLASHLOAN_PREMIUM_TOTAL",
		"outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const dataProviderABIJson = `[
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getReserveData",
		"outputs": [
			{"internalType": "uint256", "name": "unbacked", "type": "uint256"},
			{"internalType": "uint256", "name": "accruedToTreasuryScaled", "type": "uint256"},
			{"internalType": "uint256", "name": "totalAToken", "type": "uint256"},
			{"internalType": "uint256", "name": "totalStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "totalVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityRate", "type": "uint256"},
			{"internalType": "uint256", "name": "variableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "stableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "averageStableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityIndex", "type": "uint256"},
			{"internalType": "uint256", "name": "variableBorrowIndex", "type": "uint256"},
			{"internalType": "uint40", "name": "lastUpdateTimestamp", "type": "uint40"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	PoolABI         abi.ABI
	DataProviderABI abi.ABI
)

func init() {
	var err error
	if PoolABI, err = abi.JSON(strings.NewReader(poolABIJson)); err != nil {
		panic(err)
	}
	if DataProviderABI, err = abi.JSON(strings.NewReader(dataProviderABIJson)); err != nil {
		panic(err)
	}
}

// Provider reads the flashloan terms of the Aave V3 pool that ProfitBot
// borrows from.
type Provider struct {
	pool       *bind.BoundContract
	data       *bind.BoundContract
	maxLoanPct uint8
	logger     *zap.Logger
}

// NewProvider creates an Aave V3 reader. maxLoanPct bounds MaxLoan to that
// share of the reserve's available liquidity; 0 means 100.
func NewProvider(pool, dataProvider common.Address, maxLoanPct uint8, caller bind.ContractCaller, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLoanPct == 0 || maxLoanPct > 100 {
		maxLoanPct = 100
	}
	return &Provider{
		pool:       bind.NewBoundContract(pool, PoolABI, caller, nil, nil),
		data:       bind.NewBoundContract(dataProvider, DataProviderABI, caller, nil, nil),
		maxLoanPct: maxLoanPct,
		logger:     logger,
	}
}

func (p *Provider) String() string {
	return "aave-v3"
}

// PremiumBps returns the total flashloan premium in basis points
func (p *Provider) PremiumBps(ctx context.Context) (uint32, error) {
	var out []interface{}
	if err := p.pool.Call(&bind.CallOpts{Context: ctx}, &out, "FLASHLOAN_PREMIUM_TOTAL"); err != nil {
		return 0, fmt.Errorf("FLASHLOAN_PREMIUM_TOTAL: %w", err)
	}
	premium, ok := out[0].(*big.Int)
	if !ok || !premium.IsUint64() || premium.Uint64() >= 10000 {
		return 0, fmt.Errorf("unexpected premium %v", out[0])
	}
	return uint32(premium.Uint64()), nil
}

// AvailableLiquidity returns what the reserve can lend right now: supplied
// aTokens minus outstanding debt.
func (p *Provider) AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error) {
	var out []interface{}
	if err := p.data.Call(&bind.CallOpts{Context: ctx}, &out, "getReserveData", asset); err != nil {
		return nil, fmt.Errorf("getReserveData %s: %w", asset.Hex(), err)
	}
	if len(out) < 5 {
		return nil, fmt.Errorf("getReserveData returned %d values", len(out))
	}

	supplied, ok1 := out[2].(*big.Int)
	stable, ok2 := out[3].(*big.Int)
	variable, ok3 := out[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected reserve data types")
	}

	available := new(big.Int).Sub(supplied, stable)
	available.Sub(available, variable)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	return available, nil
}

// MaxLoan returns the largest amount of asset this bot is willing to borrow
func (p *Provider) MaxLoan(ctx context.Context, asset common.Address) (*big.Int, error) {
	liquidity, err := p.AvailableLiquidity(ctx, asset)
	if err != nil {
		return nil, err
	}

	maxLoan := umath.BpsOf(liquidity, uint32(p.maxLoanPct)*100)

	p.logger.Debug("Aave reserve liquidity",
		zap.String("asset", asset.Hex()),
		zap.String("available", liquidity.String()),
		zap.String("max_loan", maxLoan.String()))
	return maxLoan, nil
}
