package mempool

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
)

// Source tags candidates produced by the watcher
const Source = "mempool"

// TokenLookup resolves swap path addresses to registry symbols
type TokenLookup interface {
	ByAddress(addr common.Address) (tokens.Token, bool)
}

type Config struct {
	Routers       []common.Address
	QueueSize     int
	SeenCacheSize int
	LookupRate    rate.Limit
	LookupBurst   int
}

// ConfigFromMempool converts the file config, rejecting malformed routers
func ConfigFromMempool(c config.MempoolConfig) (Config, error) {
	cfg := Config{
		QueueSize:     c.QueueSize,
		SeenCacheSize: c.SeenCacheSize,
		LookupRate:    rate.Limit(c.LookupRate.RequestsPerSecond),
		LookupBurst:   c.LookupRate.BurstSize,
	}
	for _, r := range c.Routers {
		addr, err := tokens.ParseAddress(r)
		if err != nil {
			return Config{}, fmt.Errorf("router %q: %w", r, err)
		}
		cfg.Routers = append(cfg.Routers, addr)
	}
	return cfg, nil
}

// Watcher turns pending router swaps into candidate routes. It only
// produces; the scanner drains Out() at its own pace and candidates that
// do not fit in the queue are dropped.
type Watcher struct {
	client  EthClient
	decoder *TransactionDecoder
	tokens  TokenLookup
	routers map[common.Address]bool
	// routes indexed by every symbol they touch
	routes  map[string][]types.Route
	seen    *lru.Cache
	limiter *rate.Limiter
	out     chan types.Candidate
	counter prometheus.Counter
	logger  *zap.Logger
}

// NewWatcher creates a watcher over the configured routes. counter may be
// nil.
func NewWatcher(cfg Config, client EthClient, lookup TokenLookup, routes []types.Route, counter prometheus.Counter, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = 4096
	}
	if cfg.LookupRate <= 0 {
		cfg.LookupRate = rate.Inf
	}
	if cfg.LookupBurst <= 0 {
		cfg.LookupBurst = 1
	}

	decoder, err := NewTransactionDecoder()
	if err != nil {
		return nil, err
	}
	seen, err := lru.New(cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen cache: %w", err)
	}

	w := &Watcher{
		client:  client,
		decoder: decoder,
		tokens:  lookup,
		routers: make(map[common.Address]bool, len(cfg.Routers)),
		routes:  make(map[string][]types.Route),
		seen:    seen,
		limiter: rate.NewLimiter(cfg.LookupRate, cfg.LookupBurst),
		out:     make(chan types.Candidate, cfg.QueueSize),
		counter: counter,
		logger:  logger.Named("mempool"),
	}
	for _, r := range cfg.Routers {
		w.routers[r] = true
	}
	for _, r := range routes {
		touched := make(map[string]bool)
		for _, sym := range r.Symbols {
			sym = strings.ToUpper(sym)
			for _, key := range []string{sym, tokens.Aliases[sym]} {
				if key == "" || touched[key] {
					continue
				}
				touched[key] = true
				w.routes[key] = append(w.routes[key], r)
			}
		}
	}
	return w, nil
}

// Out is the candidate queue
func (w *Watcher) Out() <-chan types.Candidate {
	return w.out
}

// Run subscribes to pending transactions until ctx ends or the
// subscription fails. The subscription error is returned.
func (w *Watcher) Run(ctx context.Context) error {
	hashes := make(chan common.Hash, 1024)
	sub, err := w.client.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	w.logger.Info("Watching pending transactions", zap.Int("routers", len(w.routers)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			w.logger.Error("Subscription error", zap.Error(err))
			return err
		case hash := <-hashes:
			if w.seen.Contains(hash) {
				continue
			}
			w.seen.Add(hash, struct{}{})

			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			tx, _, err := w.client.TransactionByHash(ctx, hash)
			if err != nil {
				w.logger.Debug("Failed to get transaction", zap.String("hash", hash.Hex()), zap.Error(err))
				continue
			}
			w.HandleTx(tx)
		}
	}
}

// HandleTx pushes the routes touched by a router swap and returns how
// many were queued.
func (w *Watcher) HandleTx(tx *ethtypes.Transaction) int {
	if tx == nil || tx.To() == nil || !w.routers[*tx.To()] {
		return 0
	}
	swap, err := w.decoder.DecodeSwap(tx.Data())
	if err != nil {
		return 0
	}

	var queued int
	pushed := make(map[string]bool)
	for _, addr := range []common.Address{swap.TokenIn(), swap.TokenOut()} {
		tok, ok := w.tokens.ByAddress(addr)
		if !ok {
			continue
		}
		for _, r := range w.routes[tok.Symbol] {
			key := r.String()
			if pushed[key] {
				continue
			}
			pushed[key] = true

			select {
			case w.out <- types.Candidate{Route: r, Source: Source}:
				queued++
				if w.counter != nil {
					w.counter.Inc()
				}
			default:
				w.logger.Debug("Candidate queue full", zap.String("route", key))
			}
		}
	}
	if queued > 0 {
		w.logger.Debug("Swap touched routes",
			zap.String("tx", tx.Hash().Hex()),
			zap.String("method", swap.Method),
			zap.Int("routes", queued))
	}
	return queued
}
