package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoPrice = errors.New("no price available")

// PriceSource returns the USD price of one whole token
type PriceSource interface {
	Name() string
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// Chain asks each source in order and caches the first positive answer for
// ttl. Failed lookups are not cached.
type Chain struct {
	sources []PriceSource
	cache   *lru.Cache
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	misses map[string]int
}

func NewChain(sources []PriceSource, cacheSize int, ttl time.Duration, logger *zap.Logger) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Chain{
		sources: sources,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		misses:  make(map[string]int),
	}, nil
}

func (c *Chain) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, ">")
}

func (c *Chain) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	if v, ok := c.cache.Get(token); ok {
		entry := v.(cachedPrice)
		if c.ttl <= 0 || c.now().Sub(entry.at) < c.ttl {
			return entry.price, nil
		}
		c.cache.Remove(token)
	}

	var errs []string
	for _, src := range c.sources {
		price, err := src.PriceUSD(ctx, token)
		if err == nil && price.IsPositive() {
			c.cache.Add(token, cachedPrice{price: price, at: c.now()})
			return price, nil
		}
		if err == nil {
			err = ErrNoPrice
		}
		c.recordMiss(src.Name())
		errs = append(errs, fmt.Sprintf("%s: %v", src.Name(), err))
	}

	c.logger.Debug("No price for token",
		zap.String("token", token.Hex()),
		zap.Strings("errors", errs))
	return decimal.Zero, fmt.Errorf("%w for %s: %s", ErrNoPrice, token.Hex(), strings.Join(errs, "; "))
}

func (c *Chain) recordMiss(source string) {
	c.mu.Lock()
	c.misses[source]++
	c.mu.Unlock()
}

// Misses returns how many lookups each source failed
func (c *Chain) Misses() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.misses))
	for k, v := range c.misses {
		out[k] = v
	}
	return out
}

// Static serves fixed prices, used for pinned stablecoins and tests
type Static map[common.Address]decimal.Decimal

func (s Static) Name() string {
	return "static"
}

func (s Static) PriceUSD(_ context.Context, token common.Address) (decimal.Decimal, error) {
	p, ok := s[token]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return p, nil
}
