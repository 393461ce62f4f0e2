package zerox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/types"
)

const (
	Name       = "0x"
	DefaultURL = "https://api.0x.org"
	pricePath  = "/swap/permit2/price"
	apiVersion = "v2"
	headerKey  = "0x-api-key"
	headerVer  = "0x-version"
)

type priceResponse struct {
	LiquidityAvailable bool   `json:"liquidityAvailable"`
	BuyAmount          string `json:"buyAmount"`
	Route              struct {
		Fills []struct {
			From          string `json:"from"`
			To            string `json:"to"`
			Source        string `json:"source"`
			ProportionBps string `json:"proportionBps"`
		} `json:"fills"`
		Tokens []struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"tokens"`
	} `json:"route"`
}

// ZeroX quotes the 0x permit2 price endpoint
type ZeroX struct {
	dex.APIVenue
	baseURL string
	apiKey  string
	chainID uint64
}

func New(baseURL, apiKey string, chainID uint64, client *dex.APIClient, cache dex.PairCache, logger *zap.Logger) *ZeroX {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &ZeroX{
		APIVenue: dex.NewAPIVenue(Name, client, cache, logger),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		chainID:  chainID,
	}
}

func (z *ZeroX) Name() string {
	return Name
}

func (z *ZeroX) Kind() dex.VenueKind {
	return dex.KindAggregator
}

func (z *ZeroX) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	if reason := dex.ValidInput(tokenIn, tokenOut, amountIn); reason != "" {
		return types.NoQuote(Name, reason)
	}
	if z.apiKey == "" {
		return types.NoQuote(Name, dex.ErrMissingAPIKey.Error())
	}
	if z.Known(tokenIn, tokenOut) {
		return types.NoQuote(Name, "pair cached as unsupported")
	}

	q, err := z.fetch(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return z.Fail(tokenIn, tokenOut, err)
	}
	return q
}

func (z *ZeroX) fetch(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	query := url.Values{}
	query.Set("chainId", strconv.FormatUint(z.chainID, 10))
	query.Set("sellToken", tokenIn.Hex())
	query.Set("buyToken", tokenOut.Hex())
	query.Set("sellAmount", amountIn.String())

	headers := http.Header{}
	headers.Set(headerKey, z.apiKey)
	headers.Set(headerVer, apiVersion)

	var resp priceResponse
	if err := z.Client.GetJSON(ctx, z.baseURL+pricePath, query, headers, &resp); err != nil {
		var statusErr *dex.StatusError
		if errors.As(err, &statusErr) && isTokenNotSupported(statusErr.Body) {
			return nil, dex.Unsupported("%s", statusErr.Body)
		}
		return nil, err
	}

	// liquidity depends on the size, so this is not a pair property
	if !resp.LiquidityAvailable {
		return nil, fmt.Errorf("%w at %s", dex.ErrNoLiquidity, amountIn)
	}
	out, ok := new(big.Int).SetString(resp.BuyAmount, 10)
	if !ok || out.Sign() <= 0 {
		return nil, fmt.Errorf("invalid buyAmount %q", resp.BuyAmount)
	}

	fills := make([]types.Fill, 0, len(resp.Route.Fills))
	parts := make([]string, 0, len(resp.Route.Fills))
	for _, f := range resp.Route.Fills {
		bps, err := strconv.Atoi(f.ProportionBps)
		if err != nil {
			return nil, fmt.Errorf("invalid fill proportion %q: %w", f.ProportionBps, err)
		}
		fills = append(fills, types.Fill{Source: f.Source, ProportionBps: bps})
		parts = append(parts, fmt.Sprintf("%s (%.2f%%)", f.Source, float64(bps)/100))
	}

	return &types.Quote{
		AmountOut:    out,
		Venue:        Name,
		RouteSummary: strings.Join(parts, " → "),
		Fills:        fills,
	}, nil
}

func isTokenNotSupported(body string) bool {
	return strings.Contains(strings.ToUpper(body), "TOKEN_NOT_SUPPORTED")
}
