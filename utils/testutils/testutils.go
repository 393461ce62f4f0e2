package testutils

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// ErrReverted is what FakeCaller returns for calls without a handler
var ErrReverted = errors.New("execution reverted")

// CallHandler answers one eth_call. args are the decoded method inputs.
type CallHandler func(args []interface{}) ([]interface{}, error)

type handlerKey struct {
	to       common.Address
	selector [4]byte
}

type registered struct {
	method  abi.Method
	handler CallHandler
}

// FakeCaller is a bind.ContractCaller that dispatches calls by
// (contract, selector) to Go handlers and packs their results with the ABI.
type FakeCaller struct {
	mu       sync.Mutex
	handlers map[handlerKey]registered
	calls    map[handlerKey]int
}

func NewFakeCaller() *FakeCaller {
	return &FakeCaller{
		handlers: make(map[handlerKey]registered),
		calls:    make(map[handlerKey]int),
	}
}

// Handle registers handler for method of parsed at contract to
func (f *FakeCaller) Handle(t *testing.T, to common.Address, parsed abi.ABI, method string, handler CallHandler) {
	t.Helper()
	m, ok := parsed.Methods[method]
	require.True(t, ok, "method %s not in ABI", method)

	var sel [4]byte
	copy(sel[:], m.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[handlerKey{to, sel}] = registered{method: m, handler: handler}
}

// Calls returns how many times method was called on to
func (f *FakeCaller) Calls(to common.Address, parsed abi.ABI, method string) int {
	var sel [4]byte
	copy(sel[:], parsed.Methods[method].ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[handlerKey{to, sel}]
}

func (f *FakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *FakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, ErrReverted
	}

	var key handlerKey
	key.to = *call.To
	copy(key.selector[:], call.Data[:4])

	f.mu.Lock()
	f.calls[key]++
	reg, ok := f.handlers[key]
	f.mu.Unlock()
	if !ok {
		return nil, ErrReverted
	}

	args, err := reg.method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", reg.method.Name, err)
	}
	out, err := reg.handler(args)
	if err != nil {
		return nil, err
	}
	return reg.method.Outputs.Pack(out...)
}

// MustParseABI parses an ABI JSON string or fails the test
func MustParseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

// Address returns a deterministic address derived from label
func Address(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// CreateMockTransaction signs a dynamic-fee transaction to `to` carrying data
func CreateMockTransaction(t *testing.T, chainID *big.Int, to common.Address, data []byte) *types.Transaction {
	t.Helper()
	key := TestPrivateKey(t)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(30_000_000_000),
		GasFeeCap: big.NewInt(100_000_000_000),
		Gas:       300000,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)

	return signedTx
}

// TestPrivateKey returns a fixed, well-known key for tests
func TestPrivateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key := make([]byte, 32)
	for i := 0; i < 32; i++ {
		key[i] = byte(i + 1)
	}
	pk, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	return pk
}
