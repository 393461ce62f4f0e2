package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/polyarb/types"
)

const profitBotABIJson = `[
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "params", "type": "bytes"}
		],
		"name": "initiateFlashloan",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ProfitBotABI is the flashloan entry point of the deployed arbitrage contract
var ProfitBotABI abi.ABI

// paramsArgs is the layout ProfitBot decodes in its flashloan callback:
// (tokenIn, amountIn, path1, path2, minOut1, minOut2)
var paramsArgs abi.Arguments

func init() {
	var err error
	if ProfitBotABI, err = abi.JSON(strings.NewReader(profitBotABIJson)); err != nil {
		panic(err)
	}

	addr, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	addrs, _ := abi.NewType("address[]", "", nil)
	paramsArgs = abi.Arguments{
		{Name: "tokenIn", Type: addr},
		{Name: "amountIn", Type: uint256},
		{Name: "path1", Type: addrs},
		{Name: "path2", Type: addrs},
		{Name: "minOut1", Type: uint256},
		{Name: "minOut2", Type: uint256},
	}
}

// EncodeParams ABI-encodes the hand-off tuple for initiateFlashloan
func EncodeParams(p *types.ExecutionParams) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil execution params")
	}
	path2 := p.Path2
	if path2 == nil {
		path2 = []common.Address{}
	}
	minOut2 := p.MinOut2
	if minOut2 == nil {
		minOut2 = new(big.Int)
	}
	return paramsArgs.Pack(p.TokenIn, p.AmountIn, p.Path1, path2, p.MinOut1, minOut2)
}

// DecodeParams reverses EncodeParams
func DecodeParams(data []byte) (*types.ExecutionParams, error) {
	vals, err := paramsArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack params: %w", err)
	}
	if len(vals) != len(paramsArgs) {
		return nil, fmt.Errorf("expected %d values, got %d", len(paramsArgs), len(vals))
	}
	return &types.ExecutionParams{
		TokenIn:  vals[0].(common.Address),
		AmountIn: vals[1].(*big.Int),
		Path1:    vals[2].([]common.Address),
		Path2:    vals[3].([]common.Address),
		MinOut1:  vals[4].(*big.Int),
		MinOut2:  vals[5].(*big.Int),
	}, nil
}

// PackInitiate builds the initiateFlashloan calldata for p
func PackInitiate(p *types.ExecutionParams) ([]byte, error) {
	encoded, err := EncodeParams(p)
	if err != nil {
		return nil, err
	}
	return ProfitBotABI.Pack("initiateFlashloan", p.TokenIn, p.AmountIn, encoded)
}
