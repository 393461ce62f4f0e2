package mempool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

const (
	usdcAddr   = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
	wethAddr   = "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
	wmaticAddr = "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"
	daiAddr    = "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"
)

var (
	router  = testutils.Address("router")
	chainID = big.NewInt(137)
)

func testRegistry(t *testing.T) *tokens.Registry {
	reg, err := tokens.NewRegistry(map[string]config.TokenConfig{
		"USDC":   {Address: usdcAddr, Decimals: 6},
		"WETH":   {Address: wethAddr, Decimals: 18},
		"WMATIC": {Address: wmaticAddr, Decimals: 18},
		"DAI":    {Address: daiAddr, Decimals: 18},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return reg
}

func testRoutes() []types.Route {
	return []types.Route{
		types.NewRoute("USDC", "WETH", "USDC"),
		types.NewRoute("USDC", "WETH"),
		types.NewRoute("DAI", "MATIC", "DAI"),
		types.NewRoute("DAI", "USDC", "DAI"),
	}
}

func newWatcher(t *testing.T, cfg Config, client EthClient, counter prometheus.Counter) *Watcher {
	cfg.Routers = []common.Address{router}
	w, err := NewWatcher(cfg, client, testRegistry(t), testRoutes(), counter, zaptest.NewLogger(t))
	require.NoError(t, err)
	return w
}

func swapTx(t *testing.T, to common.Address, path ...string) *ethtypes.Transaction {
	d, err := NewTransactionDecoder()
	require.NoError(t, err)
	addrs := make([]common.Address, len(path))
	for i, p := range path {
		addrs[i] = common.HexToAddress(p)
	}
	data, err := d.EncodeSwapExactTokensForTokens(big.NewInt(1e6), big.NewInt(1), addrs, testutils.Address("trader"), big.NewInt(1))
	require.NoError(t, err)
	return testutils.CreateMockTransaction(t, chainID, to, data)
}

func drain(w *Watcher) []string {
	var out []string
	for {
		select {
		case c := <-w.Out():
			out = append(out, c.Route.String())
		default:
			return out
		}
	}
}

func TestHandleTxQueuesTouchedRoutes(t *testing.T) {
	w := newWatcher(t, Config{}, nil, nil)

	n := w.HandleTx(swapTx(t, router, wethAddr, usdcAddr))
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"USDC→WETH→USDC", "USDC→WETH", "DAI→USDC→DAI"}, drain(w))
}

func TestHandleTxResolvesAliases(t *testing.T) {
	w := newWatcher(t, Config{}, nil, nil)

	// MATIC in a route is the WMATIC token on chain
	n := w.HandleTx(swapTx(t, router, wmaticAddr, testutils.Address("unknown").Hex()))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"DAI→MATIC→DAI"}, drain(w))
}

func TestHandleTxIgnoresIrrelevant(t *testing.T) {
	w := newWatcher(t, Config{}, nil, nil)

	assert.Zero(t, w.HandleTx(nil))
	assert.Zero(t, w.HandleTx(swapTx(t, testutils.Address("other router"), wethAddr, usdcAddr)))
	assert.Zero(t, w.HandleTx(testutils.CreateMockTransaction(t, chainID, router, []byte{1, 2, 3, 4})))
	assert.Zero(t, w.HandleTx(swapTx(t, router, testutils.Address("x").Hex(), testutils.Address("y").Hex())))
	assert.Empty(t, drain(w))
}

func TestHandleTxDropsWhenQueueFull(t *testing.T) {
	counter := metrics.NewScannerMetrics(prometheus.NewRegistry()).Candidates
	w := newWatcher(t, Config{QueueSize: 2}, nil, counter)

	assert.Equal(t, 2, w.HandleTx(swapTx(t, router, wethAddr, usdcAddr)))
	assert.Len(t, drain(w), 2)
	assert.Equal(t, float64(2), metrics.CounterValue(counter))
}

type fakeClient struct {
	hashes  []common.Hash
	txs     map[common.Hash]*ethtypes.Transaction
	subErr  error
	lookups int
}

func (f *fakeClient) SubscribePendingTransactions(_ context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, h := range f.hashes {
			select {
			case ch <- h:
			case <-quit:
				return nil
			}
		}
		if f.subErr != nil {
			return f.subErr
		}
		<-quit
		return nil
	}), nil
}

func (f *fakeClient) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	f.lookups++
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func TestRunProducesCandidates(t *testing.T) {
	tx := swapTx(t, router, usdcAddr, wethAddr)
	client := &fakeClient{
		// duplicate announcements are looked up once
		hashes: []common.Hash{common.HexToHash("0x01"), tx.Hash(), tx.Hash()},
		txs:    map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
	}
	w := newWatcher(t, Config{}, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case c := <-w.Out():
			assert.Equal(t, Source, c.Source)
			got = append(got, c.Route.String())
		case <-timeout:
			t.Fatal("no candidates")
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ElementsMatch(t, []string{"USDC→WETH→USDC", "USDC→WETH", "DAI→USDC→DAI"}, got)
	assert.Equal(t, 2, client.lookups)
}

func TestRunReturnsSubscriptionError(t *testing.T) {
	dropped := errors.New("subscription dropped")
	w := newWatcher(t, Config{}, &fakeClient{subErr: dropped}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, w.Run(ctx), dropped)
}

func TestConfigFromMempool(t *testing.T) {
	cfg, err := ConfigFromMempool(config.MempoolConfig{
		QueueSize: 8,
		Routers:   []string{"0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"},
		LookupRate: config.RateLimitConfig{
			RequestsPerSecond: 20,
			BurstSize:         5,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"), cfg.Routers[0])
	assert.Equal(t, 5, cfg.LookupBurst)

	_, err = ConfigFromMempool(config.MempoolConfig{Routers: []string{"nope"}})
	assert.Error(t, err)
}
