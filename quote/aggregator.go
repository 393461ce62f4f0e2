package quote

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/types"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
)

type Options struct {
	// Strategy is config.StrategyFallback or config.StrategyParallel
	Strategy       string
	MinOutputRatio decimal.Decimal
	MinFillBps     int
	MinTradeUSD    decimal.Decimal
	// VenueDelay separates sequential venue calls in fallback mode
	VenueDelay time.Duration
}

// OptionsFromConfig converts the quote section of the config
func OptionsFromConfig(cfg config.QuoteConfig) (Options, error) {
	opts := Options{
		Strategy:    cfg.Strategy,
		MinFillBps:  cfg.MinFillBps,
		MinTradeUSD: decimal.NewFromFloat(cfg.MinTradeUSD),
		VenueDelay:  cfg.VenueDelay,
	}
	if cfg.MinOutputRatio != "" {
		r, err := decimal.NewFromString(cfg.MinOutputRatio)
		if err != nil {
			return Options{}, fmt.Errorf("invalid min_output_ratio: %w", err)
		}
		if r.IsNegative() {
			return Options{}, fmt.Errorf("min_output_ratio must not be negative")
		}
		opts.MinOutputRatio = r
	}
	return opts, nil
}

// VenueResult is one venue's answer for a single hop
type VenueResult struct {
	Venue    string
	Kind     dex.VenueKind
	Quote    *types.Quote
	Rejected string
	Latency  time.Duration
}

// Accepted reports whether the venue produced a usable quote
func (r VenueResult) Accepted() bool {
	return !r.Quote.IsZero() && r.Rejected == ""
}

// Aggregator picks the best acceptable quote across venues. It never
// returns nil and never panics: adapter failures of every kind end as the
// zero sentinel.
type Aggregator struct {
	sources []dex.QuoteSource
	tokens  dex.TokenLookup
	oracle  PriceOracle
	opts    Options
	metrics *metrics.QuoteMetrics
	logger  *zap.Logger
}

// NewAggregator registers sources in priority order. m may be nil.
func NewAggregator(sources []dex.QuoteSource, tokens dex.TokenLookup, oracle PriceOracle, opts Options, m *metrics.QuoteMetrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Strategy == "" {
		opts.Strategy = config.StrategyFallback
	}
	return &Aggregator{
		sources: sources,
		tokens:  tokens,
		oracle:  oracle,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

func (a *Aggregator) Sources() []dex.QuoteSource {
	return a.sources
}

// GetBestQuote quotes a single hop path [tokenIn, tokenOut]
func (a *Aggregator) GetBestQuote(ctx context.Context, path []common.Address, amountIn *big.Int) *types.Quote {
	req, reason := validate(path, amountIn)
	if reason != "" {
		return types.NoQuote(types.VenueError, reason)
	}

	var results []VenueResult
	if a.opts.Strategy == config.StrategyParallel {
		results = a.quoteParallel(ctx, req)
	} else {
		results = a.quoteFallback(ctx, req)
	}

	if best := selectBest(results); best != nil {
		return best
	}
	return types.NoQuote(types.VenueNone, summarize(results))
}

// QuoteAll asks every venue and filters each answer without selecting
func (a *Aggregator) QuoteAll(ctx context.Context, path []common.Address, amountIn *big.Int) ([]VenueResult, error) {
	req, reason := validate(path, amountIn)
	if reason != "" {
		return nil, fmt.Errorf("invalid quote request: %s", reason)
	}
	return a.quoteParallel(ctx, req), nil
}

func validate(path []common.Address, amountIn *big.Int) (request, string) {
	if len(path) != 2 {
		return request{}, fmt.Sprintf("path must have 2 tokens, got %d", len(path))
	}
	if reason := dex.ValidInput(path[0], path[1], amountIn); reason != "" {
		return request{}, reason
	}
	return request{tokenIn: path[0], tokenOut: path[1], amountIn: amountIn}, ""
}

// quoteFallback walks venues in priority order and stops at the first
// acceptable quote, so metered APIs are only hit when cheaper venues fail.
func (a *Aggregator) quoteFallback(ctx context.Context, req request) []VenueResult {
	results := make([]VenueResult, 0, len(a.sources))
	for i, src := range a.sources {
		if i > 0 && a.opts.VenueDelay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(a.opts.VenueDelay):
			}
		}
		if ctx.Err() != nil {
			return results
		}

		res := a.evaluate(ctx, src, req)
		results = append(results, res)
		if res.Accepted() {
			break
		}
	}
	return results
}

func (a *Aggregator) quoteParallel(ctx context.Context, req request) []VenueResult {
	results := make([]VenueResult, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src dex.QuoteSource) {
			defer wg.Done()
			results[i] = a.evaluate(ctx, src, req)
		}(i, src)
	}
	wg.Wait()
	return results
}

func (a *Aggregator) evaluate(ctx context.Context, src dex.QuoteSource, req request) VenueResult {
	name := src.Name()
	start := time.Now()
	q := a.safeQuote(ctx, src, req)
	res := VenueResult{Venue: name, Kind: src.Kind(), Quote: q, Latency: time.Since(start)}

	if a.metrics != nil {
		a.metrics.Requests.WithLabelValues(name).Inc()
		a.metrics.Latency.WithLabelValues(name).Observe(res.Latency.Seconds())
	}

	if q.IsZero() {
		if a.metrics != nil {
			a.metrics.Failures.WithLabelValues(name).Inc()
		}
		a.logger.Debug("No quote from venue", zap.String("venue", name), zap.String("reason", q.Reason))
		return res
	}

	for _, f := range a.filters() {
		if reason := f.check(ctx, req, res.Kind, q); reason != "" {
			res.Rejected = reason
			if a.metrics != nil {
				a.metrics.Rejections.WithLabelValues(name, f.name).Inc()
			}
			a.logger.Debug("Quote rejected",
				zap.String("venue", name),
				zap.String("filter", f.name),
				zap.String("reason", reason))
			break
		}
	}
	return res
}

// safeQuote shields the caller from misbehaving adapters
func (a *Aggregator) safeQuote(ctx context.Context, src dex.QuoteSource, req request) (q *types.Quote) {
	name := src.Name()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Venue adapter panicked", zap.String("venue", name), zap.Any("panic", r))
			q = types.NoQuote(name, fmt.Sprintf("adapter panic: %v", r))
		}
	}()

	q = src.Quote(ctx, req.tokenIn, req.tokenOut, new(big.Int).Set(req.amountIn))
	if q == nil {
		return types.NoQuote(name, "adapter returned nil")
	}
	if q.AmountOut == nil {
		q.AmountOut = new(big.Int)
	}
	if q.Venue == "" {
		q.Venue = name
	}
	return q
}

// selectBest returns the accepted quote with the strictly greatest output;
// the earliest venue wins ties.
func selectBest(results []VenueResult) *types.Quote {
	var best *types.Quote
	for _, r := range results {
		if !r.Accepted() {
			continue
		}
		if best == nil || r.Quote.AmountOut.Cmp(best.AmountOut) > 0 {
			best = r.Quote
		}
	}
	return best
}

func summarize(results []VenueResult) string {
	if len(results) == 0 {
		return "no venues queried"
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		reason := r.Rejected
		if reason == "" {
			reason = r.Quote.Reason
		}
		if reason == "" {
			reason = "no quote"
		}
		parts = append(parts, r.Venue+": "+reason)
	}
	return strings.Join(parts, "; ")
}
