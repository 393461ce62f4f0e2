package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

func TestDecodeSwapExactTokensForTokens(t *testing.T) {
	d, err := NewTransactionDecoder()
	require.NoError(t, err)

	path := []common.Address{testutils.Address("USDC"), testutils.Address("WETH"), testutils.Address("DAI")}
	to := testutils.Address("trader")
	data, err := d.EncodeSwapExactTokensForTokens(big.NewInt(1_000_000), big.NewInt(990), path, to, big.NewInt(1700000000))
	require.NoError(t, err)

	swap, err := d.DecodeSwap(data)
	require.NoError(t, err)
	assert.Equal(t, "swapExactTokensForTokens", swap.Method)
	assert.Equal(t, path, swap.Path)
	assert.Equal(t, path[0], swap.TokenIn())
	assert.Equal(t, path[2], swap.TokenOut())
	assert.Equal(t, big.NewInt(1_000_000), swap.AmountIn)
	assert.Equal(t, to, swap.To)
	assert.Equal(t, big.NewInt(1700000000), swap.Deadline)
}

func TestDecodeSwapExactETHForTokens(t *testing.T) {
	d, err := NewTransactionDecoder()
	require.NoError(t, err)

	path := []common.Address{testutils.Address("WMATIC"), testutils.Address("USDC")}
	data, err := d.router.Pack("swapExactETHForTokens", big.NewInt(1), path, testutils.Address("trader"), big.NewInt(1))
	require.NoError(t, err)

	swap, err := d.DecodeSwap(data)
	require.NoError(t, err)
	assert.Equal(t, "swapExactETHForTokens", swap.Method)
	assert.Nil(t, swap.AmountIn)
	assert.Equal(t, path[1], swap.TokenOut())
}

func TestDecodeSwapRejects(t *testing.T) {
	d, err := NewTransactionDecoder()
	require.NoError(t, err)

	short := []common.Address{testutils.Address("USDC")}
	oneHop, err := d.EncodeSwapExactTokensForTokens(big.NewInt(1), big.NewInt(1), short, common.Address{}, big.NewInt(1))
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"empty":          nil,
		"unknown method": {0xde, 0xad, 0xbe, 0xef, 0x00},
		"truncated":      oneHop[:40],
		"short path":     oneHop,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := d.DecodeSwap(data)
			assert.Error(t, err)
		})
	}
}
