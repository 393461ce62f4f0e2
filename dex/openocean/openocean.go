package openocean

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/types"
	umath "github.com/michaelpento.lv/polyarb/utils/math"
)

const (
	Name         = "openocean"
	DefaultURL   = "https://open-api.openocean.finance"
	defaultChain = "polygon"
)

// GasPricer supplies the gas price the quote API insists on
type GasPricer interface {
	GasPriceWei(ctx context.Context) *big.Int
}

type quoteResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		InAmount  string `json:"inAmount"`
		OutAmount string `json:"outAmount"`
		Dexes     []struct {
			DexCode    string `json:"dexCode"`
			SwapAmount string `json:"swapAmount"`
		} `json:"dexes"`
	} `json:"data"`
}

// OpenOcean quotes the v3 quote endpoint. Its results are informative only:
// the flashloan contract cannot route through OpenOcean.
type OpenOcean struct {
	dex.APIVenue
	baseURL string
	chain   string
	tokens  dex.TokenLookup
	gas     GasPricer
}

func New(baseURL, chain string, lookup dex.TokenLookup, gas GasPricer, client *dex.APIClient, cache dex.PairCache, logger *zap.Logger) *OpenOcean {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if chain == "" {
		chain = defaultChain
	}
	return &OpenOcean{
		APIVenue: dex.NewAPIVenue(Name, client, cache, logger),
		baseURL:  strings.TrimRight(baseURL, "/"),
		chain:    chain,
		tokens:   lookup,
		gas:      gas,
	}
}

func (o *OpenOcean) Name() string {
	return Name
}

func (o *OpenOcean) Kind() dex.VenueKind {
	return dex.KindAggregator
}

func (o *OpenOcean) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote {
	if reason := dex.ValidInput(tokenIn, tokenOut, amountIn); reason != "" {
		return types.NoQuote(Name, reason)
	}
	if o.Known(tokenIn, tokenOut) {
		return types.NoQuote(Name, "pair cached as unsupported")
	}

	q, err := o.fetch(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return o.Fail(tokenIn, tokenOut, err)
	}
	return q
}

func (o *OpenOcean) fetch(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*types.Quote, error) {
	src, ok := o.tokens.ByAddress(tokenIn)
	if !ok {
		return nil, fmt.Errorf("unknown decimals for %s", tokenIn.Hex())
	}

	// v3 takes the amount in whole tokens and the gas price in gwei
	gasGwei := decimal.NewFromBigInt(o.gas.GasPriceWei(ctx), -9)

	query := url.Values{}
	query.Set("inTokenAddress", tokenIn.Hex())
	query.Set("outTokenAddress", tokenOut.Hex())
	query.Set("amount", umath.FromWei(amountIn, src.Decimals).String())
	query.Set("gasPrice", gasGwei.StringFixed(2))
	query.Set("slippage", "1")

	endpoint := fmt.Sprintf("%s/v3/%s/quote", o.baseURL, o.chain)

	var resp quoteResponse
	if err := o.Client.GetJSON(ctx, endpoint, query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 && resp.Code != 200 {
		return nil, fmt.Errorf("openocean code %d: %s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: empty quote data", dex.ErrNoLiquidity)
	}

	out, ok := new(big.Int).SetString(resp.Data.OutAmount, 10)
	if !ok || out.Sign() <= 0 {
		return nil, fmt.Errorf("invalid outAmount %q", resp.Data.OutAmount)
	}

	used := make([]string, 0, len(resp.Data.Dexes))
	for _, d := range resp.Data.Dexes {
		if amt, err := strconv.ParseFloat(d.SwapAmount, 64); err == nil && amt > 0 {
			used = append(used, d.DexCode)
		}
	}

	return &types.Quote{
		AmountOut:    out,
		Venue:        Name,
		RouteSummary: strings.Join(used, ", "),
	}, nil
}
