package bot

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

func TestBuildVenuesFollowsConfiguredOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Venues.Order = []string{"paraswap", "QuickSwap", "uniswapv3", "0x", "sushiswap", "openocean"}

	api := dex.NewAPIClient(dex.APIClientConfig{}, nil)
	pairs, err := dex.NewFilePairCache("")
	require.NoError(t, err)

	sources, err := BuildVenues(cfg, testutils.NewFakeCaller(), nil, nil, api, pairs, zaptest.NewLogger(t))
	require.NoError(t, err)

	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"paraswap", "quickswap", "uniswapv3", "0x", "sushiswap", "openocean"}, names)
	assert.Equal(t, dex.KindAggregator, sources[0].Kind())
	assert.Equal(t, dex.KindOnChain, sources[1].Kind())
}

func TestVenueRoutersCollectsRouterVenues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Venues.Order = []string{"quickswap", "uniswapv3", "sushiswap", "0x", "quickswap"}

	api := dex.NewAPIClient(dex.APIClientConfig{}, nil)
	pairs, err := dex.NewFilePairCache("")
	require.NoError(t, err)
	sources, err := BuildVenues(cfg, testutils.NewFakeCaller(), nil, nil, api, pairs, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []common.Address{
		common.HexToAddress(cfg.Venues.QuickSwapRouter),
		common.HexToAddress(cfg.Venues.SushiSwapRouter),
	}, VenueRouters(sources))
}

func TestGasConfigTreatsZeroAsUnset(t *testing.T) {
	c := GasConfig(config.GasConfig{MaxBaseFeeGwei: 0, PriorityFeeGwei: 0, FallbackGasPriceGwei: 0})
	assert.Nil(t, c.MaxBaseFee)
	assert.Nil(t, c.PriorityFee)
	assert.Nil(t, c.FallbackGasPrice)

	c = GasConfig(config.DefaultConfig().Gas)
	assert.Equal(t, "90000000000", c.MaxBaseFee.String())
	assert.Equal(t, "30000000000", c.PriorityFee.String())
	assert.Equal(t, uint64(500000), c.GasUnits)
}

func TestBuildVenuesErrors(t *testing.T) {
	api := dex.NewAPIClient(dex.APIClientConfig{}, nil)
	pairs, err := dex.NewFilePairCache("")
	require.NoError(t, err)

	unknown := config.DefaultConfig()
	unknown.Venues.Order = []string{"quickswap", "kyber"}
	_, err = BuildVenues(unknown, testutils.NewFakeCaller(), nil, nil, api, pairs, nil)
	assert.ErrorContains(t, err, "kyber")

	badRouter := config.DefaultConfig()
	badRouter.Venues.QuickSwapRouter = "0x1234"
	_, err = BuildVenues(badRouter, testutils.NewFakeCaller(), nil, nil, api, pairs, nil)
	assert.ErrorContains(t, err, "quickswap_router")

	empty := config.DefaultConfig()
	empty.Venues.Order = nil
	_, err = BuildVenues(empty, testutils.NewFakeCaller(), nil, nil, api, pairs, nil)
	assert.Error(t, err)
}

func TestBuildOracle(t *testing.T) {
	cfg := config.DefaultConfig()
	chain, err := BuildOracle(cfg, testutils.NewFakeCaller(), dex.NewAPIClient(dex.APIClientConfig{}, nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, chain)

	cfg.Oracle.AaveOracle = "not an address"
	_, err = BuildOracle(cfg, testutils.NewFakeCaller(), nil, nil)
	assert.Error(t, err)
}

func TestCountingCacheCountsHits(t *testing.T) {
	pairs, err := dex.NewFilePairCache("")
	require.NoError(t, err)
	m := metrics.NewQuoteMetrics(prometheus.NewRegistry())
	cache := &countingCache{PairCache: pairs, hits: m.UnsupportedHits}

	entry := dex.NewPairEntry("0x", testutils.Address("USDC"), testutils.Address("WETH"))
	key := dex.NewPairKey("0x", testutils.Address("USDC"), testutils.Address("WETH"))
	assert.False(t, cache.Has(key))
	cache.Add(key, entry)
	assert.True(t, cache.Has(key))
	assert.True(t, cache.Has(key))
	assert.Equal(t, float64(2), metrics.CounterValue(m.UnsupportedHits))
}
