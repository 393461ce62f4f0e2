package paraswap

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
	Name       = "paraswap"
	DefaultURL = "https://apiv5.paraswap.io"
	userAgent  = "polyarb/1.0"
)

type swapExchange struct {
	Exchange string  `json:"exchange"`
	Percent  float64 `json:"percent"`
}

type pricesResponse struct {
	PriceRoute *struct {
		DestAmount string `json:"destAmount"`
		BestRoute  []struct {
			Percent float64 `json:"percent"`
			Swaps   []struct {
				SrcToken      string         `json:"srcToken"`
				DestToken     string         `json:"destToken"`
				SwapExchanges []swapExchange `json:"swapExchanges"`
			} `json:"swaps"`
		} `json:"bestRoute"`
	} `json:"priceRoute"`
	Error string `json:"error"`
}

// ParaSwap quotes the /prices endpoint. The API wants token decimals, so the
// venue resolves both tokens through the registry first.
type ParaSwap struct {
	dex.APIVenue
	baseURL string
	network uint64
	dexes   []string
	tokens  dex.TokenLookup
}

func New(baseURL string, network uint64, dexes []string, lookup dex.TokenLookup, client *dex.APIClient, cache dex.PairCache, logger *zap.Logger) *ParaSwap {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &ParaSwap{
		APIVenue: dex.NewAPIVenue(Name, client, cache, logger),
		baseURL:  strings.TrimRight(baseURL, "/"),
		network:  network,
		dexes:    dexes,
		tokens:   lookup,
	}
}

func (p *ParaSwap) Name() string {
	return Name
}

func (p *ParaSwap) Kind() dex.VenueKind {
	return dex.KindAggregator
}

func (p *ParaSwap) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	if reason := dex.ValidInput(tokenIn, tokenOut, amountIn); reason != "" {
		return types.NoQuote(Name, reason)
	}
	if p.Known(tokenIn, tokenOut) {
		return types.NoQuote(Name, "pair cached as unsupported")
	}

	q, err := p.fetch(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return p.Fail(tokenIn, tokenOut, err)
	}
	return q
}

func (p *ParaSwap) fetch(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	src, ok := p.tokens.ByAddress(tokenIn)
	if !ok {
		return nil, fmt.Errorf("unknown decimals for %s", tokenIn.Hex())
	}
	dst, ok := p.tokens.ByAddress(tokenOut)
	if !ok {
		return nil, fmt.Errorf("unknown decimals for %s", tokenOut.Hex())
	}

	query := url.Values{}
	query.Set("srcToken", tokenIn.Hex())
	query.Set("destToken", tokenOut.Hex())
	query.Set("amount", amountIn.String())
	query.Set("srcDecimals", strconv.Itoa(int(src.Decimals)))
	query.Set("destDecimals", strconv.Itoa(int(dst.Decimals)))
	query.Set("side", "SELL")
	query.Set("network", strconv.FormatUint(p.network, 10))
	if len(p.dexes) > 0 {
		query.Set("includeDEXS", strings.Join(p.dexes, ","))
	}

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)

	var resp pricesResponse
	if err := p.Client.GetJSON(ctx, p.baseURL+"/prices/", query, headers, &resp); err != nil {
		var statusErr *dex.StatusError
		if errors.As(err, &statusErr) {
			return nil, classify(statusErr.Body, err)
		}
		return nil, err
	}
	if resp.Error != "" {
		return nil, classify(resp.Error, errors.New(resp.Error))
	}
	if resp.PriceRoute == nil {
		return nil, fmt.Errorf("response has no priceRoute")
	}

	out, ok := new(big.Int).SetString(resp.PriceRoute.DestAmount, 10)
	if !ok || out.Sign() <= 0 {
		return nil, fmt.Errorf("invalid destAmount %q", resp.PriceRoute.DestAmount)
	}

	var (
		fills []types.Fill
		hops  []string
	)
	for _, route := range resp.PriceRoute.BestRoute {
		for _, swap := range route.Swaps {
			names := make([]string, 0, len(swap.SwapExchanges))
			for _, ex := range swap.SwapExchanges {
				names = append(names, fmt.Sprintf("%s (%g%%)", ex.Exchange, ex.Percent))
				// share of the whole trade that went through this exchange
				bps := int(route.Percent * ex.Percent)
				fills = append(fills, types.Fill{Source: ex.Exchange, ProportionBps: bps})
			}
			hops = append(hops, strings.Join(names, ", "))
		}
	}

	return &types.Quote{
		AmountOut:    out,
		Venue:        Name,
		RouteSummary: strings.Join(hops, " → "),
		Fills:        fills,
	}, nil
}

// classify maps a ParaSwap error message. Only unknown tokens make the pair
// unsupported; "no routes" depends on the amount and is not cached.
func classify(msg string, err error) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "token not found"):
		return dex.Unsupported("%s", msg)
	case strings.Contains(m, "no routes"):
		return fmt.Errorf("%w: %s", dex.ErrNoLiquidity, msg)
	}
	return err
}
