package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/polyarb/dex"
	"github.com/michaelpento.lv/polyarb/types"
	umath "github.com/michaelpento.lv/polyarb/utils/math"
)

// Filter names, also used as metric labels
const (
	FilterMinRatio = "min_ratio"
	FilterMinFill  = "min_fill"
	FilterMinUSD   = "min_usd"
)

// PriceOracle prices one whole token in USD
type PriceOracle interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

type request struct {
	tokenIn  common.Address
	tokenOut common.Address
	amountIn *big.Int
}

// filter returns a non-empty reason when q must be rejected
type filter struct {
	name  string
	check func(ctx context.Context, req request, kind dex.VenueKind, q *types.Quote) string
}

func (a *Aggregator) filters() []filter {
	return []filter{
		{FilterMinRatio, a.checkMinRatio},
		{FilterMinFill, a.checkMinFill},
		{FilterMinUSD, a.checkMinUSD},
	}
}

// checkMinRatio rejects outputs at or below amountIn * ratio, both in raw
// units. It catches venues answering in the wrong unit.
func (a *Aggregator) checkMinRatio(_ context.Context, req request, _ dex.VenueKind, q *types.Quote) string {
	if !a.opts.MinOutputRatio.IsPositive() {
		return ""
	}
	minOut := decimal.NewFromBigInt(req.amountIn, 0).Mul(a.opts.MinOutputRatio)
	if decimal.NewFromBigInt(q.AmountOut, 0).LessThanOrEqual(minOut) {
		return fmt.Sprintf("output %s at or below %s x input", q.AmountOut, a.opts.MinOutputRatio)
	}
	return ""
}

// checkMinFill rejects aggregator routes that contain any weak partial fill
func (a *Aggregator) checkMinFill(_ context.Context, _ request, kind dex.VenueKind, q *types.Quote) string {
	if kind != dex.KindAggregator || a.opts.MinFillBps <= 0 {
		return ""
	}
	for _, f := range q.Fills {
		if f.ProportionBps < a.opts.MinFillBps {
			return fmt.Sprintf("weak fill %s at %d bps", f.Source, f.ProportionBps)
		}
	}
	return ""
}

// checkMinUSD rejects dust. An unavailable price counts as zero.
func (a *Aggregator) checkMinUSD(ctx context.Context, req request, _ dex.VenueKind, q *types.Quote) string {
	if !a.opts.MinTradeUSD.IsPositive() {
		return ""
	}
	tok, ok := a.tokens.ByAddress(req.tokenOut)
	if !ok {
		return fmt.Sprintf("unknown decimals for %s", req.tokenOut.Hex())
	}

	price := decimal.Zero
	if a.oracle != nil {
		if p, err := a.oracle.PriceUSD(ctx, req.tokenOut); err == nil {
			price = p
		}
	}
	usd := umath.USDValue(q.AmountOut, tok.Decimals, price)
	if usd.LessThan(a.opts.MinTradeUSD) {
		return fmt.Sprintf("trade value $%s below $%s", usd.StringFixed(4), a.opts.MinTradeUSD)
	}
	return ""
}
