package bot

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/dex/openocean"
	"github.com/michaelpento.lv/polyarb/dex/paraswap"
	"github.com/michaelpento.lv/polyarb/dex/sushiswap"
	"github.com/michaelpento.lv/polyarb/dex/uniswap"
	"github.com/michaelpento.lv/polyarb/dex/zerox"
	"github.com/michaelpento.lv/polyarb/flashloan"
	"github.com/michaelpento.lv/polyarb/flashloan/aave"
	"github.com/michaelpento.lv/polyarb/gas"
	"github.com/michaelpento.lv/polyarb/mempool"
	"github.com/michaelpento.lv/polyarb/oracle"
	"github.com/michaelpento.lv/polyarb/quote"
	"github.com/michaelpento.lv/polyarb/storage"
	"github.com/michaelpento.lv/polyarb/strategies/arbitrage"
	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
)

// Components is the quoting stack shared by the scan, quote and tokens
// commands
type Components struct {
	Client     *ethclient.Client
	Tokens     *tokens.Registry
	Aggregator *quote.Aggregator
	Oracle     *oracle.Chain
	Gas        *gas.Estimator
	PairCache  *dex.FilePairCache
	Registry   *prometheus.Registry
	Quote      *metrics.QuoteMetrics
}

// Build dials the RPC endpoint and assembles the venues, oracle and gas
// estimator from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCEndpoint, err)
	}
	client := ethclient.NewClient(rpcClient)

	registry, err := tokens.NewRegistry(cfg.Tokens, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	if cfg.Scanner.VerifyDecimals {
		verified, mismatches, err := registry.VerifyDecimals(ctx, client, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		if len(mismatches) > 0 {
			logger.Warn("Tokens dropped after decimals check", zap.Int("dropped", len(mismatches)))
		}
		registry = verified
	}

	reg := metrics.NewRegistry()
	quoteMetrics := metrics.NewQuoteMetrics(reg)

	api := dex.NewAPIClient(dex.APIClientConfig{
		Timeout:           cfg.Venues.RequestTimeout,
		RequestsPerSecond: cfg.APIRateLimit.RequestsPerSecond,
		Burst:             cfg.APIRateLimit.BurstSize,
		Retry: dex.RetryPolicy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BaseBackoff: cfg.Retry.BaseBackoff,
			MaxJitter:   cfg.Retry.MaxJitter,
		},
	}, logger)
	api.OnRateLimited = quoteMetrics.RateLimited.Inc

	pairs, err := dex.NewFilePairCache(cfg.Venues.PairCacheFile)
	if err != nil {
		logger.Warn("Starting with an empty pair cache", zap.Error(err))
		pairs, _ = dex.NewFilePairCache("")
	}

	var native gas.NativePricer
	if cfg.Gas.NativeUSDFeed != "" {
		feed, err := tokens.ParseAddress(cfg.Gas.NativeUSDFeed)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("gas.native_usd_feed: %w", err)
		}
		native = oracle.NewChainlinkFeed(feed, client)
	}
	estimator := gas.NewEstimator(GasConfig(cfg.Gas), client, api, native, logger)

	prices, err := BuildOracle(cfg, client, api, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	sources, err := BuildVenues(cfg, client, registry, estimator, api, &countingCache{PairCache: pairs, hits: quoteMetrics.UnsupportedHits}, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	opts, err := quote.OptionsFromConfig(cfg.Quote)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Components{
		Client:     client,
		Tokens:     registry,
		Aggregator: quote.NewAggregator(sources, registry, prices, opts, quoteMetrics, logger),
		Oracle:     prices,
		Gas:        estimator,
		PairCache:  pairs,
		Registry:   reg,
		Quote:      quoteMetrics,
	}, nil
}

// Close flushes the pair cache and closes the RPC client
func (c *Components) Close(logger *zap.Logger) {
	if err := c.PairCache.Flush(); err != nil {
		logger.Warn("Failed to flush pair cache", zap.Error(err))
	}
	c.Client.Close()
}

// BuildVenues creates the quote sources in the configured priority order
func BuildVenues(cfg *config.Config, caller bind.ContractCaller, lookup dex.TokenLookup, gasPricer openocean.GasPricer, api *dex.APIClient, pairs dex.PairCache, logger *zap.Logger) ([]dex.QuoteSource, error) {
	address := func(field, s string) (common.Address, error) {
		addr, err := tokens.ParseAddress(s)
		if err != nil {
			return common.Address{}, fmt.Errorf("venues.%s: %w", field, err)
		}
		return addr, nil
	}

	var sources []dex.QuoteSource
	for _, name := range cfg.Venues.Order {
		switch strings.ToLower(name) {
		case "quickswap":
			router, err := address("quickswap_router", cfg.Venues.QuickSwapRouter)
			if err != nil {
				return nil, err
			}
			sources = append(sources, uniswap.NewQuickSwap(router, caller, logger))
		case sushiswap.Name:
			router, err := address("sushiswap_router", cfg.Venues.SushiSwapRouter)
			if err != nil {
				return nil, err
			}
			sources = append(sources, sushiswap.NewSushiswapV2(router, caller, logger))
		case "uniswapv3":
			quoter, err := address("uniswap_v3_quoter", cfg.Venues.UniswapV3Quoter)
			if err != nil {
				return nil, err
			}
			factory, err := address("uniswap_v3_factory", cfg.Venues.UniswapV3Factory)
			if err != nil {
				return nil, err
			}
			sources = append(sources, uniswap.NewUniswapV3(quoter, factory, cfg.Venues.FeeTiers, caller, logger))
		case zerox.Name:
			sources = append(sources, zerox.New(cfg.Venues.ZeroXURL, cfg.Secrets.ZeroXAPIKey, cfg.ChainID, api, pairs, logger))
		case paraswap.Name:
			sources = append(sources, paraswap.New(cfg.Venues.ParaSwapURL, cfg.ChainID, cfg.Venues.ParaSwapDexes, lookup, api, pairs, logger))
		case openocean.Name:
			sources = append(sources, openocean.New(cfg.Venues.OpenOceanURL, cfg.Venues.OpenOceanChain, lookup, gasPricer, api, pairs, logger))
		default:
			return nil, fmt.Errorf("unknown venue %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no venues configured")
	}
	return sources, nil
}

// BuildOracle chains the Aave oracle in front of CoinGecko
func BuildOracle(cfg *config.Config, caller bind.ContractCaller, api *dex.APIClient, logger *zap.Logger) (*oracle.Chain, error) {
	var sources []oracle.PriceSource
	if cfg.Oracle.AaveOracle != "" {
		addr, err := tokens.ParseAddress(cfg.Oracle.AaveOracle)
		if err != nil {
			return nil, fmt.Errorf("oracle.aave_oracle: %w", err)
		}
		sources = append(sources, oracle.NewAaveOracle(addr, caller))
	}
	if cfg.Oracle.CoinGeckoURL != "" {
		sources = append(sources, oracle.NewCoinGecko(cfg.Oracle.CoinGeckoURL, cfg.Oracle.CoinGeckoNet, api))
	}
	return oracle.NewChain(sources, cfg.Oracle.CacheSize, cfg.Oracle.CacheTTL, logger)
}

// countingCache counts hits on the unsupported-pair cache
type countingCache struct {
	dex.PairCache
	hits prometheus.Counter
}

func (c *countingCache) Has(key dex.PairKey) bool {
	ok := c.PairCache.Has(key)
	if ok {
		c.hits.Inc()
	}
	return ok
}

// Bot runs the scanner with its producers and the metrics endpoint
type Bot struct {
	cfg        *config.Config
	components *Components
	scanner    *Scanner
	watcher    *mempool.Watcher
	journal    *storage.Journal
	logger     *zap.Logger
}

// New creates the bot from cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b, err := newBot(ctx, cfg, c, logger)
	if err != nil {
		c.Close(logger)
		return nil, err
	}
	return b, nil
}

func newBot(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*Bot, error) {
	routes, err := LoadRoutes(cfg.Routes.File, logger)
	if err != nil {
		return nil, err
	}

	evalCfg, err := arbitrage.ConfigFromEvaluator(cfg.Evaluator)
	if err != nil {
		return nil, err
	}

	var lender *aave.Provider
	if cfg.Execution.AavePool != "" && cfg.Execution.AaveDataProvider != "" {
		pool, err := tokens.ParseAddress(cfg.Execution.AavePool)
		if err != nil {
			return nil, fmt.Errorf("execution.aave_pool: %w", err)
		}
		dp, err := tokens.ParseAddress(cfg.Execution.AaveDataProvider)
		if err != nil {
			return nil, fmt.Errorf("execution.aave_data_provider: %w", err)
		}
		lender = aave.NewProvider(pool, dp, cfg.Execution.MaxLoanPct, c.Client, logger)
		if bps, err := lender.PremiumBps(ctx); err != nil {
			logger.Warn("Using configured flashloan premium", zap.Uint32("bps", evalCfg.FlashloanPremiumBps), zap.Error(err))
		} else {
			evalCfg.FlashloanPremiumBps = bps
		}
	}

	evaluator := arbitrage.NewEvaluator(c.Aggregator, c.Tokens, c.Oracle, c.Gas, evalCfg, logger)

	executor, err := buildExecutor(cfg, c, lender, logger)
	if err != nil {
		return nil, err
	}

	journal, err := storage.OpenJournal(cfg.Scanner.JournalPath)
	if err != nil {
		return nil, err
	}

	scanMetrics := metrics.NewScannerMetrics(c.Registry)

	var watcher *mempool.Watcher
	var candidates <-chan types.Candidate
	if cfg.Mempool.Enabled {
		watcher, err = buildWatcher(ctx, cfg, c.Tokens, c.Aggregator.Sources(), routes, scanMetrics.Candidates, logger)
		if err != nil {
			journal.Close()
			return nil, err
		}
		candidates = watcher.Out()
	}

	scanner := NewScanner(ScannerConfig{
		Sizes:       cfg.Routes.Sizes,
		Concurrency: cfg.Scanner.Concurrency,
		Interval:    cfg.Scanner.Interval,
	}, routes, evaluator, executor, journal, candidates, scanMetrics, logger)

	return &Bot{
		cfg:        cfg,
		components: c,
		scanner:    scanner,
		watcher:    watcher,
		journal:    journal,
		logger:     logger,
	}, nil
}

// buildExecutor returns nil when no ProfitBot is configured, which leaves
// the scanner in report-only mode
func buildExecutor(cfg *config.Config, c *Components, lender *aave.Provider, logger *zap.Logger) (Executor, error) {
	if cfg.ProfitBotAddress == "" {
		logger.Warn("No ProfitBot address configured, profitable routes are only reported")
		return nil, nil
	}
	bot, err := tokens.ParseAddress(cfg.ProfitBotAddress)
	if err != nil {
		return nil, fmt.Errorf("profitbot_address: %w", err)
	}

	var key *ecdsa.PrivateKey
	if cfg.Secrets.PrivateKey != "" {
		key, err = crypto.HexToECDSA(cfg.Secrets.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
	}

	var l flashloan.Lender
	if lender != nil {
		l = lender
	}
	return flashloan.NewExecutor(flashloan.Config{
		ProfitBot:       bot,
		ChainID:         new(big.Int).SetUint64(cfg.ChainID),
		GasLimit:        cfg.Execution.GasLimit,
		DryRun:          cfg.DryRun,
		QuoteOnlyVenues: cfg.Venues.QuoteOnlyVenues,
		WaitMined:       !cfg.DryRun,
	}, c.Client, c.Gas, l, key, logger)
}

// GasConfig converts the gas section. Zero gwei settings mean unset: no
// base-fee cap, the node's tip and the built-in fallback price.
func GasConfig(c config.GasConfig) gas.Config {
	return gas.Config{
		GasStationURL:     c.GasStationURL,
		GasUnits:          c.GasUnits,
		FallbackGasPrice:  gas.OptionalGwei(c.FallbackGasPriceGwei),
		FallbackNativeUSD: decimal.NewFromFloat(c.FallbackNativeUSD),
		MaxBaseFee:        gas.OptionalGwei(c.MaxBaseFeeGwei),
		PriorityFee:       gas.OptionalGwei(c.PriorityFeeGwei),
		UpdateInterval:    c.UpdateInterval,
	}
}

// VenueRouters collects the router contracts of the router-based venues,
// without duplicates.
func VenueRouters(sources []dex.QuoteSource) []common.Address {
	var out []common.Address
	seen := make(map[common.Address]bool)
	for _, src := range sources {
		rp, ok := src.(dex.RouterProvider)
		if !ok {
			continue
		}
		addr := rp.RouterAddress()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func buildWatcher(ctx context.Context, cfg *config.Config, lookup mempool.TokenLookup, sources []dex.QuoteSource, routes []types.Route, counter prometheus.Counter, logger *zap.Logger) (*mempool.Watcher, error) {
	if cfg.WSEndpoint == "" {
		return nil, fmt.Errorf("mempool watching needs ws_endpoint")
	}
	wcfg, err := mempool.ConfigFromMempool(cfg.Mempool)
	if err != nil {
		return nil, err
	}
	if len(wcfg.Routers) == 0 {
		// watch the routers we quote against
		wcfg.Routers = VenueRouters(sources)
	}
	ws, err := rpc.DialContext(ctx, cfg.WSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.WSEndpoint, err)
	}
	return mempool.NewWatcher(wcfg, mempool.NewEthClientWrapper(ws), lookup, routes, counter, logger)
}

// Run blocks until ctx is cancelled. A failing watcher or metrics endpoint
// is logged without stopping the scanner.
func (b *Bot) Run(ctx context.Context) error {
	defer b.close()

	b.components.Gas.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if b.cfg.PrometheusEnabled {
		g.Go(func() error {
			if err := metrics.Serve(gctx, b.cfg.PrometheusEndpoint, b.components.Registry, b.logger); err != nil {
				b.logger.Error("Metrics endpoint stopped", zap.Error(err))
			}
			return nil
		})
	}
	if b.watcher != nil {
		g.Go(func() error {
			if err := b.watcher.Run(gctx); err != nil && gctx.Err() == nil {
				b.logger.Error("Mempool watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		return b.scanner.Run(gctx)
	})
	return g.Wait()
}

// RunOnce runs a single scan pass
func (b *Bot) RunOnce(ctx context.Context) (*PassSummary, error) {
	defer b.close()
	b.components.Gas.Update(ctx)
	return b.scanner.RunPass(ctx)
}

func (b *Bot) close() {
	if err := b.journal.Close(); err != nil {
		b.logger.Warn("Failed to close journal", zap.Error(err))
	}
	if misses := b.components.Oracle.Misses(); len(misses) > 0 {
		b.logger.Info("Price source misses", zap.Any("misses", misses))
	}
	b.components.Close(b.logger)
}
