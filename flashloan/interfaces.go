package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/michaelpento.lv/polyarb/simulator"
)

// Backend is the slice of ethclient.Client the executor needs to simulate,
// sign, send and wait for a transaction.
type Backend interface {
	simulator.Backend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// FeeCapper supplies EIP-1559 fee caps, see gas.Estimator
type FeeCapper interface {
	FeeCaps(ctx context.Context) (tip, feeCap *big.Int, err error)
}

// Lender bounds how much of an asset can be borrowed, see aave.Provider
type Lender interface {
	MaxLoan(ctx context.Context, asset common.Address) (*big.Int, error)
	String() string
}
