package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const aaveOracleABIJson = `[
	{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"BASE_CURRENCY_UNIT","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const aggregatorABIJson = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
	"stateMutability":"view","type":"function"}
]`

var (
	AaveOracleABI abi.ABI
	AggregatorABI abi.ABI
)

func init() {
	var err error
	if AaveOracleABI, err = abi.JSON(strings.NewReader(aaveOracleABIJson)); err != nil {
		panic(err)
	}
	if AggregatorABI, err = abi.JSON(strings.NewReader(aggregatorABIJson)); err != nil {
		panic(err)
	}
}

// aaveBaseDecimals is the USD base currency precision of Aave V3 oracles
const aaveBaseDecimals = 8

// AaveOracle reads getAssetPrice from the Aave V3 price oracle
type AaveOracle struct {
	contract *bind.BoundContract
}

func NewAaveOracle(addr common.Address, caller bind.ContractCaller) *AaveOracle {
	return &AaveOracle{contract: bind.NewBoundContract(addr, AaveOracleABI, caller, nil, nil)}
}

func (a *AaveOracle) Name() string {
	return "aave"
}

func (a *AaveOracle) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAssetPrice", token); err != nil {
		return decimal.Zero, fmt.Errorf("getAssetPrice: %w", err)
	}
	raw, ok := out[0].(*big.Int)
	if !ok || raw.Sign() <= 0 {
		return decimal.Zero, ErrNoPrice
	}
	return decimal.NewFromBigInt(raw, -aaveBaseDecimals), nil
}

// ChainlinkFeed reads a single Chainlink aggregator, e.g. MATIC/USD
type ChainlinkFeed struct {
	contract *bind.BoundContract

	mu       sync.Mutex
	decimals *uint8
}

func NewChainlinkFeed(addr common.Address, caller bind.ContractCaller) *ChainlinkFeed {
	return &ChainlinkFeed{contract: bind.NewBoundContract(addr, AggregatorABI, caller, nil, nil)}
}

// Latest returns the latest answer scaled by the feed's decimals
func (f *ChainlinkFeed) Latest(ctx context.Context) (decimal.Decimal, error) {
	opts := &bind.CallOpts{Context: ctx}

	decimals, err := f.feedDecimals(opts)
	if err != nil {
		return decimal.Zero, err
	}

	var out []interface{}
	if err := f.contract.Call(opts, &out, "latestRoundData"); err != nil {
		return decimal.Zero, fmt.Errorf("latestRoundData: %w", err)
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, ErrNoPrice
	}
	return decimal.NewFromBigInt(answer, -int32(decimals)), nil
}

func (f *ChainlinkFeed) feedDecimals(opts *bind.CallOpts) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}

	var out []interface{}
	if err := f.contract.Call(opts, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	f.decimals = &d
	return d, nil
}
