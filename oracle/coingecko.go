package oracle

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/polyarb/dex"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko reads /simple/token_price for a platform such as polygon-pos
type CoinGecko struct {
	client   *dex.APIClient
	baseURL  string
	platform string
}

func NewCoinGecko(baseURL, platform string, client *dex.APIClient) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if platform == "" {
		platform = "polygon-pos"
	}
	return &CoinGecko{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: platform,
	}
}

func (c *CoinGecko) Name() string {
	return "coingecko"
}

func (c *CoinGecko) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("contract_addresses", strings.ToLower(token.Hex()))
	query.Set("vs_currencies", "usd")

	var resp map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	endpoint := fmt.Sprintf("%s/simple/token_price/%s", c.baseURL, c.platform)
	if err := c.client.GetJSON(ctx, endpoint, query, nil, &resp); err != nil {
		return decimal.Zero, err
	}

	for addr, px := range resp {
		if strings.EqualFold(addr, token.Hex()) && px.USD.IsPositive() {
			return px.USD, nil
		}
	}
	return decimal.Zero, ErrNoPrice
}
