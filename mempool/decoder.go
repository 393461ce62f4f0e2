package mempool

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RouterABI covers the path-carrying swap methods of UniswapV2-style routers
const RouterABI = `[
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"},{"internalType":"uint256","name":"amountInMax","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapTokensForExactTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// SwapParams is the decoded part of a router swap we care about
type SwapParams struct {
	Method   string
	Path     []common.Address
	AmountIn *big.Int
	To       common.Address
	Deadline *big.Int
}

// TokenIn returns the first token of the swap path
func (s *SwapParams) TokenIn() common.Address {
	return s.Path[0]
}

// TokenOut returns the last token of the swap path
func (s *SwapParams) TokenOut() common.Address {
	return s.Path[len(s.Path)-1]
}

// TransactionDecoder handles decoding of router calldata
type TransactionDecoder struct {
	router abi.ABI
}

// NewTransactionDecoder creates a new transaction decoder
func NewTransactionDecoder() (*TransactionDecoder, error) {
	router, err := abi.JSON(strings.NewReader(RouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &TransactionDecoder{router: router}, nil
}

// DecodeSwap decodes a router swap call. AmountIn is nil for methods
// where the input is the transaction value or a maximum.
func (d *TransactionDecoder) DecodeSwap(data []byte) (*SwapParams, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid data length")
	}

	method, err := d.router.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to decode method: %w", err)
	}

	params := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(params, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method.Name, err)
	}

	path, ok := params["path"].([]common.Address)
	if !ok || len(path) < 2 {
		return nil, fmt.Errorf("invalid path")
	}

	swap := &SwapParams{Method: method.Name, Path: path}
	if amountIn, ok := params["amountIn"].(*big.Int); ok {
		swap.AmountIn = amountIn
	}
	if to, ok := params["to"].(common.Address); ok {
		swap.To = to
	}
	if deadline, ok := params["deadline"].(*big.Int); ok {
		swap.Deadline = deadline
	}
	return swap, nil
}

// EncodeSwapExactTokensForTokens encodes parameters for swapExactTokensForTokens
func (d *TransactionDecoder) EncodeSwapExactTokensForTokens(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return d.router.Pack("swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}
