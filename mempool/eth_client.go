package mempool

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient defines the node operations the watcher needs
type EthClient interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// EthClientWrapper pairs ethclient with gethclient, which owns the
// newPendingTransactions subscription.
type EthClientWrapper struct {
	eth  *ethclient.Client
	geth *gethclient.Client
}

// NewEthClientWrapper wraps a websocket or IPC RPC client
func NewEthClientWrapper(c *rpc.Client) *EthClientWrapper {
	return &EthClientWrapper{
		eth:  ethclient.NewClient(c),
		geth: gethclient.New(c),
	}
}

// SubscribePendingTransactions implements the EthClient interface
func (w *EthClientWrapper) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return w.geth.SubscribePendingTransactions(ctx, ch)
}

func (w *EthClientWrapper) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return w.eth.TransactionByHash(ctx, hash)
}
