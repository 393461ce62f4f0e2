package zerox

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/dex"
)

var (
	usdc = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	weth = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
)

func newVenue(t *testing.T, handler http.HandlerFunc, apiKey string) (*ZeroX, *dex.FilePairCache) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cache, err := dex.NewFilePairCache("")
	require.NoError(t, err)
	client := dex.NewAPIClient(dex.APIClientConfig{}, zaptest.NewLogger(t))
	return New(srv.URL, apiKey, 137, client, cache, zaptest.NewLogger(t)), cache
}

func TestZeroXQuote(t *testing.T) {
	z, _ := newVenue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/permit2/price", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("0x-api-key"))
		assert.Equal(t, "v2", r.Header.Get("0x-version"))
		assert.Equal(t, "137", r.URL.Query().Get("chainId"))
		assert.Equal(t, "1000000", r.URL.Query().Get("sellAmount"))
		_, _ = w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "412345678901234",
			"route": {"fills": [
				{"source": "QuickSwap_V3", "proportionBps": "7000"},
				{"source": "Uniswap_V3", "proportionBps": "3000"}
			]}
		}`))
	}, "key")

	q := z.Quote(context.Background(), usdc, weth, big.NewInt(1_000_000))
	require.False(t, q.IsZero(), q.Reason)
	assert.Equal(t, "412345678901234", q.AmountOut.String())
	assert.Equal(t, Name, q.Venue)
	require.Len(t, q.Fills, 2)
	assert.Equal(t, 7000, q.Fills[0].ProportionBps)
	assert.Equal(t, "QuickSwap_V3 (70.00%) → Uniswap_V3 (30.00%)", q.RouteSummary)
	assert.Equal(t, dex.KindAggregator, z.Kind())
}

func TestZeroXIlliquidSizeDoesNotBlockSmallerSizes(t *testing.T) {
	var hits int32
	z, cache := newVenue(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Query().Get("sellAmount") == "5000000000" {
			_, _ = w.Write([]byte(`{"liquidityAvailable": false}`))
			return
		}
		_, _ = w.Write([]byte(`{"liquidityAvailable": true, "buyAmount": "98000000000000000"}`))
	}, "key")

	q := z.Quote(context.Background(), usdc, weth, big.NewInt(5_000_000_000))
	assert.True(t, q.IsZero())
	assert.Contains(t, q.Reason, "no liquidity")
	assert.False(t, cache.Has(dex.NewPairKey(Name, usdc, weth)))

	q = z.Quote(context.Background(), usdc, weth, big.NewInt(250_000_000))
	require.False(t, q.IsZero(), q.Reason)
	assert.Equal(t, "98000000000000000", q.AmountOut.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestZeroXUnsupportedTokenIsCached(t *testing.T) {
	var hits int32
	z, cache := newVenue(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"name": "TOKEN_NOT_SUPPORTED", "message": "Token is not supported"}`))
	}, "key")

	q := z.Quote(context.Background(), usdc, weth, big.NewInt(1_000_000))
	assert.True(t, q.IsZero())
	assert.True(t, cache.Has(dex.NewPairKey(Name, usdc, weth)))

	// any size is skipped from now on
	q = z.Quote(context.Background(), usdc, weth, big.NewInt(5))
	assert.True(t, q.IsZero())
	assert.Equal(t, "pair cached as unsupported", q.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestZeroXServerErrorIsNotCached(t *testing.T) {
	z, cache := newVenue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, "key")

	q := z.Quote(context.Background(), usdc, weth, big.NewInt(1))
	assert.True(t, q.IsZero())
	assert.Equal(t, Name, q.Venue)
	assert.False(t, cache.Has(dex.NewPairKey(Name, usdc, weth)))
}

func TestZeroXWithoutAPIKey(t *testing.T) {
	var hits int32
	z, _ := newVenue(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, "")

	q := z.Quote(context.Background(), usdc, weth, big.NewInt(1))
	assert.True(t, q.IsZero())
	assert.Contains(t, q.Reason, "api key")
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
