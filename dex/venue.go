package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
)

// TokenLookup resolves decimals for APIs that want human-scaled amounts
type TokenLookup interface {
	ByAddress(addr common.Address) (tokens.Token, bool)
}

// APIVenue is the plumbing shared by the HTTP aggregator venues: the
// rate-limited client, the unsupported-pair cache and failure logging.
type APIVenue struct {
	Venue  string
	Client *APIClient
	Cache  PairCache
	Logger *zap.Logger

	// OnCacheHit is called when a call is skipped because of the pair cache
	OnCacheHit func()
}

func NewAPIVenue(name string, client *APIClient, cache PairCache, logger *zap.Logger) APIVenue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return APIVenue{
		Venue:  name,
		Client: client,
		Cache:  cache,
		Logger: logger.With(zap.String("venue", name)),
	}
}

// Known reports whether the pair was already marked unsupported
func (v *APIVenue) Known(tokenIn, tokenOut common.Address) bool {
	if v.Cache == nil || !v.Cache.Has(NewPairKey(v.Venue, tokenIn, tokenOut)) {
		return false
	}
	if v.OnCacheHit != nil {
		v.OnCacheHit()
	}
	return true
}

// Fail turns err into the zero sentinel, recording unsupported pairs
func (v *APIVenue) Fail(tokenIn, tokenOut common.Address, err error) *types.Quote {
	if errors.Is(err, ErrUnsupportedPair) && v.Cache != nil {
		v.Cache.Add(NewPairKey(v.Venue, tokenIn, tokenOut), NewPairEntry(v.Venue, tokenIn, tokenOut))
	}
	v.Logger.Debug("Venue quote failed",
		zap.String("tokenIn", tokenIn.Hex()),
		zap.String("tokenOut", tokenOut.Hex()),
		zap.Error(err))
	return types.NoQuote(v.Venue, err.Error())
}

// Unsupported wraps ErrUnsupportedPair with the venue's explanation
func Unsupported(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedPair, fmt.Sprintf(format, args...))
}
