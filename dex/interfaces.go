package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/polyarb/types"
)

// VenueKind separates on-chain venues from metered aggregator APIs
type VenueKind int

const (
	KindOnChain VenueKind = iota
	KindAggregator
)

func (k VenueKind) String() string {
	if k == KindAggregator {
		return "aggregator"
	}
	return "onchain"
}

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrUnsupportedPair = errors.New("pair not supported by venue")
	ErrNoLiquidity     = errors.New("no liquidity at this size")
	ErrMissingAPIKey   = errors.New("api key not configured")
)

// QuoteSource is a single liquidity venue.
//
// Quote never returns nil and never returns an error: network failures,
// reverts, rate limits and "no route" answers all come back as a zero
// AmountOut with Venue set to Name() and a Reason.
type QuoteSource interface {
	Name() string
	Kind() VenueKind
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) *types.Quote
}

// RouterProvider is implemented by venues that swap through a router contract
type RouterProvider interface {
	RouterAddress() common.Address
}

// ValidInput checks the adapter input contract shared by every venue
func ValidInput(tokenIn, tokenOut common.Address, amountIn *big.Int) string {
	switch {
	case tokenIn == (common.Address{}) || tokenOut == (common.Address{}):
		return "zero token address"
	case tokenIn == tokenOut:
		return "identical tokens"
	case amountIn == nil || amountIn.Sign() <= 0:
		return "amount must be positive"
	}
	return ""
}
