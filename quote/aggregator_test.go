package quote

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/oracle"
	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

var (
	usdc = testutils.Address("USDC")
	weth = testutils.Address("WETH")
)

type stubSource struct {
	name  string
	kind  dex.VenueKind
	out   int64
	fills []types.Fill
	panic bool
	calls atomic.Int32
}

func (s *stubSource) Name() string        { return s.name }
func (s *stubSource) Kind() dex.VenueKind { return s.kind }

func (s *stubSource) Quote(_ context.Context, _, _ common.Address, _ *big.Int) *types.Quote {
	s.calls.Add(1)
	if s.panic {
		panic("decoder blew up")
	}
	if s.out == 0 {
		return types.NoQuote(s.name, "no liquidity")
	}
	return &types.Quote{AmountOut: big.NewInt(s.out), Venue: s.name, Fills: s.fills}
}

type nilSource struct{}

func (nilSource) Name() string        { return "nil" }
func (nilSource) Kind() dex.VenueKind { return dex.KindOnChain }
func (nilSource) Quote(context.Context, common.Address, common.Address, *big.Int) *types.Quote {
	return nil
}

type lookup map[common.Address]tokens.Token

func (l lookup) ByAddress(a common.Address) (tokens.Token, bool) {
	t, ok := l[a]
	return t, ok
}

func testTokens() lookup {
	return lookup{
		usdc: {Symbol: "USDC", Address: usdc, Decimals: 6},
		weth: {Symbol: "WETH", Address: weth, Decimals: 18},
	}
}

func stubs(outs ...int64) ([]dex.QuoteSource, []*stubSource) {
	names := []string{"quickswap", "sushiswap", "uniswapv3", "0x", "paraswap", "openocean"}
	srcs := make([]dex.QuoteSource, len(outs))
	raw := make([]*stubSource, len(outs))
	for i, out := range outs {
		raw[i] = &stubSource{name: names[i], out: out}
		srcs[i] = raw[i]
	}
	return srcs, raw
}

func newAggregator(t *testing.T, srcs []dex.QuoteSource, opts Options) *Aggregator {
	return NewAggregator(srcs, testTokens(), nil, opts, nil, zaptest.NewLogger(t))
}

func TestParallelPicksGreatest(t *testing.T) {
	srcs, _ := stubs(0, 50, 120, 0, 90)
	agg := newAggregator(t, srcs, Options{Strategy: config.StrategyParallel})

	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
	assert.Equal(t, int64(120), q.AmountOut.Int64())
	assert.Equal(t, "uniswapv3", q.Venue)
}

func TestParallelTieGoesToEarliestVenue(t *testing.T) {
	srcs, _ := stubs(0, 90, 90)
	agg := newAggregator(t, srcs, Options{Strategy: config.StrategyParallel})

	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
	assert.Equal(t, "sushiswap", q.Venue)
}

func TestFallbackStopsAtFirstAcceptable(t *testing.T) {
	srcs, raw := stubs(0, 50, 120, 90)
	agg := newAggregator(t, srcs, Options{Strategy: config.StrategyFallback})

	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
	assert.Equal(t, "sushiswap", q.Venue)
	assert.Equal(t, int64(50), q.AmountOut.Int64())

	assert.EqualValues(t, 1, raw[0].calls.Load())
	assert.EqualValues(t, 1, raw[1].calls.Load())
	assert.EqualValues(t, 0, raw[2].calls.Load())
	assert.EqualValues(t, 0, raw[3].calls.Load())
}

func TestNoVenueQuotes(t *testing.T) {
	for _, strategy := range []string{config.StrategyFallback, config.StrategyParallel} {
		t.Run(strategy, func(t *testing.T) {
			srcs, _ := stubs(0, 0, 0)
			agg := newAggregator(t, srcs, Options{Strategy: strategy})

			q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
			require.NotNil(t, q)
			assert.True(t, q.IsZero())
			assert.Equal(t, types.VenueNone, q.Venue)
			assert.Contains(t, q.Reason, "quickswap: no liquidity")
		})
	}
}

func TestInvalidInputIsErrorSentinel(t *testing.T) {
	srcs, raw := stubs(100)
	agg := newAggregator(t, srcs, Options{})

	cases := map[string]struct {
		path   []common.Address
		amount *big.Int
	}{
		"short path":     {[]common.Address{usdc}, big.NewInt(1)},
		"long path":      {[]common.Address{usdc, weth, usdc}, big.NewInt(1)},
		"zero amount":    {[]common.Address{usdc, weth}, big.NewInt(0)},
		"nil amount":     {[]common.Address{usdc, weth}, nil},
		"zero address":   {[]common.Address{{}, weth}, big.NewInt(1)},
		"same token":     {[]common.Address{usdc, usdc}, big.NewInt(1)},
		"negative input": {[]common.Address{usdc, weth}, big.NewInt(-5)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := agg.GetBestQuote(context.Background(), tc.path, tc.amount)
			require.NotNil(t, q)
			assert.True(t, q.IsZero())
			assert.Equal(t, types.VenueError, q.Venue)
		})
	}
	assert.EqualValues(t, 0, raw[0].calls.Load())
}

func TestPanickingVenueBecomesSentinel(t *testing.T) {
	bad := &stubSource{name: "quickswap", panic: true}
	good := &stubSource{name: "sushiswap", out: 70}

	for _, strategy := range []string{config.StrategyFallback, config.StrategyParallel} {
		t.Run(strategy, func(t *testing.T) {
			agg := newAggregator(t, []dex.QuoteSource{bad, nilSource{}, good}, Options{Strategy: strategy})

			var q *types.Quote
			require.NotPanics(t, func() {
				q = agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
			})
			assert.Equal(t, "sushiswap", q.Venue)
			assert.Equal(t, int64(70), q.AmountOut.Int64())
		})
	}
}

func TestMinRatioRejectsUnitMistakes(t *testing.T) {
	srcs, _ := stubs(1, 500)
	agg := newAggregator(t, srcs, Options{
		Strategy:       config.StrategyParallel,
		MinOutputRatio: decimal.RequireFromString("0.01"),
	})

	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(1000))
	assert.Equal(t, "sushiswap", q.Venue)

	// output exactly at the floor is rejected as well
	srcs, _ = stubs(10)
	agg = newAggregator(t, srcs, Options{MinOutputRatio: decimal.RequireFromString("0.01")})
	q = agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(1000))
	assert.True(t, q.IsZero())
	assert.Contains(t, q.Reason, "at or below")
}

func TestMinFillOnlyAppliesToAggregators(t *testing.T) {
	weak := []types.Fill{{Source: "Dfyn", ProportionBps: 500}, {Source: "QuickSwap", ProportionBps: 9500}}

	api := &stubSource{name: "0x", kind: dex.KindAggregator, out: 200, fills: weak}
	chain := &stubSource{name: "quickswap", kind: dex.KindOnChain, out: 150, fills: weak}

	agg := newAggregator(t, []dex.QuoteSource{api, chain}, Options{
		Strategy:   config.StrategyParallel,
		MinFillBps: 1000,
	})
	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
	assert.Equal(t, "quickswap", q.Venue)

	results, err := agg.QuoteAll(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Rejected, "Dfyn")
	assert.True(t, results[1].Accepted())
}

func TestMinTradeUSD(t *testing.T) {
	prices := oracle.Static{weth: decimal.NewFromInt(2000)}
	srcs, _ := stubs(1e12, 1e15)
	agg := NewAggregator(srcs, testTokens(), prices, Options{
		Strategy:    config.StrategyFallback,
		MinTradeUSD: decimal.NewFromInt(1),
	}, nil, zaptest.NewLogger(t))

	// 1e12 wei WETH is $0.000002, 1e15 is $2
	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(1_000_000))
	assert.Equal(t, "sushiswap", q.Venue)
}

func TestMinTradeUSDWithoutPriceRejects(t *testing.T) {
	srcs, _ := stubs(1e18)
	agg := NewAggregator(srcs, testTokens(), oracle.Static{}, Options{
		MinTradeUSD: decimal.NewFromInt(1),
	}, nil, zaptest.NewLogger(t))

	q := agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(1_000_000))
	assert.True(t, q.IsZero())
	assert.Equal(t, types.VenueNone, q.Venue)
}

func TestAggregatorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewQuoteMetrics(reg)

	srcs, _ := stubs(0, 1)
	agg := NewAggregator(srcs, testTokens(), nil, Options{
		Strategy:       config.StrategyParallel,
		MinOutputRatio: decimal.RequireFromString("0.5"),
	}, m, zaptest.NewLogger(t))
	agg.GetBestQuote(context.Background(), []common.Address{usdc, weth}, big.NewInt(100))

	assert.Equal(t, 1.0, metrics.CounterValue(m.Requests.WithLabelValues("quickswap")))
	assert.Equal(t, 1.0, metrics.CounterValue(m.Failures.WithLabelValues("quickswap")))
	assert.Equal(t, 1.0, metrics.CounterValue(m.Rejections.WithLabelValues("sushiswap", FilterMinRatio)))
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.QuoteConfig{
		Strategy:       config.StrategyParallel,
		MinOutputRatio: "0.000001",
		MinFillBps:     1000,
		MinTradeUSD:    0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, config.StrategyParallel, opts.Strategy)
	assert.True(t, opts.MinOutputRatio.Equal(decimal.RequireFromString("0.000001")))
	assert.True(t, opts.MinTradeUSD.Equal(decimal.RequireFromString("0.5")))

	_, err = OptionsFromConfig(config.QuoteConfig{MinOutputRatio: "abc"})
	assert.Error(t, err)
	_, err = OptionsFromConfig(config.QuoteConfig{MinOutputRatio: "-0.1"})
	assert.Error(t, err)
}
