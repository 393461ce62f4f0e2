package arbitrage

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/tokens"
	"github.com/michaelpento.lv/polyarb/types"
	umath "github.com/michaelpento.lv/polyarb/utils/math"
)

// Quoter returns the best single-hop quote, never nil
type Quoter interface {
	GetBestQuote(ctx context.Context, path []common.Address, amountIn *big.Int) *types.Quote
}

type PriceOracle interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// GasCoster prices one arbitrage transaction in USD and never fails
type GasCoster interface {
	EstimateGasCostUSD(ctx context.Context) decimal.Decimal
}

// HopGasCoster is a GasCoster that can price routes by their swap count
type HopGasCoster interface {
	EstimateRouteGasCostUSD(ctx context.Context, hops int) decimal.Decimal
}

type TokenSource interface {
	BySymbol(sym string) (tokens.Token, error)
}

var bpsDenominator = decimal.NewFromInt(10000)

type Config struct {
	MinProfitUSD      decimal.Decimal
	MaxSlippageBps    uint32
	SlippageOverrides map[string]uint32
	// MinIntermediateOutput is in whole units of the middle token
	MinIntermediateOutput decimal.Decimal
	// RequireDistinctVenues skips routes whose hops share a venue
	RequireDistinctVenues bool
	FlashloanPremiumBps   uint32
}

// ConfigFromEvaluator converts the evaluator section of the config
func ConfigFromEvaluator(cfg config.EvaluatorConfig) (Config, error) {
	out := Config{
		MinProfitUSD:          decimal.NewFromFloat(cfg.MinProfitUSD),
		MaxSlippageBps:        cfg.MaxSlippageBps,
		SlippageOverrides:     make(map[string]uint32, len(cfg.SlippageOverrides)),
		RequireDistinctVenues: cfg.RequireDistinctVenues,
		FlashloanPremiumBps:   cfg.FlashloanPremiumBps,
	}
	for sym, bps := range cfg.SlippageOverrides {
		out.SlippageOverrides[strings.ToUpper(sym)] = bps
	}
	if cfg.MinIntermediateOutput != "" {
		d, err := decimal.NewFromString(cfg.MinIntermediateOutput)
		if err != nil {
			return Config{}, fmt.Errorf("invalid min_intermediate_output: %w", err)
		}
		if d.IsNegative() {
			return Config{}, fmt.Errorf("min_intermediate_output must not be negative")
		}
		out.MinIntermediateOutput = d
	}
	return out, nil
}

// Evaluator chains two hops through the quoter and decides whether the
// route pays for its gas and flashloan premium.
type Evaluator struct {
	quoter Quoter
	tokens TokenSource
	prices PriceOracle
	gas    GasCoster
	cfg    Config
	logger *zap.Logger
}

func NewEvaluator(quoter Quoter, tokens TokenSource, prices PriceOracle, gas GasCoster, cfg Config, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		quoter: quoter,
		tokens: tokens,
		prices: prices,
		gas:    gas,
		cfg:    cfg,
		logger: logger,
	}
}

// EvaluateSize converts a human-readable size of the start token and
// evaluates the route with it.
func (e *Evaluator) EvaluateSize(ctx context.Context, route types.Route, size string) *types.ProfitabilityResult {
	start, err := e.tokens.BySymbol(route.Start())
	if err != nil {
		return e.skip(route, nil, types.DecisionSkipInvalid, err.Error())
	}
	amountIn, err := umath.ToWei(size, start.Decimals)
	if err != nil {
		return e.skip(route, nil, types.DecisionSkipInvalid, fmt.Sprintf("size %q: %v", size, err))
	}
	return e.EvaluateRoute(ctx, route, amountIn)
}

// EvaluateRoute quotes [A,B] or [A,B,C] for amountIn of A. It never returns
// nil and every failure ends in a Skip decision with a reason.
func (e *Evaluator) EvaluateRoute(ctx context.Context, route types.Route, amountIn *big.Int) *types.ProfitabilityResult {
	if n := len(route.Symbols); n < 2 || n > 3 {
		return e.skip(route, amountIn, types.DecisionSkipInvalid, fmt.Sprintf("route needs 2 or 3 tokens, got %d", n))
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return e.skip(route, amountIn, types.DecisionSkipInvalid, "amount must be positive")
	}

	toks := make([]tokens.Token, len(route.Symbols))
	for i, sym := range route.Symbols {
		tok, err := e.tokens.BySymbol(sym)
		if err != nil {
			return e.skip(route, amountIn, types.DecisionSkipInvalid, err.Error())
		}
		toks[i] = tok
	}

	res := &types.ProfitabilityResult{
		Route:       route,
		InputAmount: new(big.Int).Set(amountIn),
	}

	path1 := []common.Address{toks[0].Address, toks[1].Address}
	res.Hop1Quote = e.quoter.GetBestQuote(ctx, path1, amountIn)
	if res.Hop1Quote.IsZero() {
		return e.finish(res, types.DecisionSkipNoLiquidity, "hop1 "+res.Hop1Quote.String())
	}

	final := res.Hop1Quote.AmountOut
	var path2 []common.Address
	if route.IsTwoHop() {
		if e.cfg.MinIntermediateOutput.IsPositive() {
			floor, err := umath.DecimalToWei(e.cfg.MinIntermediateOutput, toks[1].Decimals)
			if err != nil {
				return e.finish(res, types.DecisionSkipInvalid, fmt.Sprintf("intermediate floor: %v", err))
			}
			if res.Hop1Quote.AmountOut.Cmp(floor) < 0 {
				return e.finish(res, types.DecisionSkipNoLiquidity,
					fmt.Sprintf("hop1 output %s below intermediate floor %s %s", res.Hop1Quote.AmountOut, e.cfg.MinIntermediateOutput, toks[1].Symbol))
			}
		}

		path2 = []common.Address{toks[1].Address, toks[2].Address}
		res.Hop2Quote = e.quoter.GetBestQuote(ctx, path2, res.Hop1Quote.AmountOut)
		if res.Hop2Quote.IsZero() {
			return e.finish(res, types.DecisionSkipNoLiquidity, "hop2 "+res.Hop2Quote.String())
		}
		final = res.Hop2Quote.AmountOut
	}
	res.FinalOutputAmount = new(big.Int).Set(final)
	if route.IsRoundTrip() {
		res.GrossDelta = new(big.Int).Sub(final, amountIn)
	}

	if e.cfg.RequireDistinctVenues && res.Hop2Quote != nil && res.Hop1Quote.Venue == res.Hop2Quote.Venue {
		return e.finish(res, types.DecisionSkipVenueConflict, "both hops via "+res.Hop1Quote.Venue)
	}

	start, end := toks[0], toks[len(toks)-1]
	inUSD, err := e.valueUSD(ctx, start, amountIn)
	if err != nil {
		return e.finish(res, types.DecisionSkipInvalid, err.Error())
	}
	outUSD, err := e.valueUSD(ctx, end, final)
	if err != nil {
		return e.finish(res, types.DecisionSkipInvalid, err.Error())
	}

	res.GrossProfitUSD = outUSD.Sub(inUSD)
	res.PremiumUSD = inUSD.Mul(decimal.NewFromInt(int64(e.cfg.FlashloanPremiumBps))).Div(bpsDenominator)
	res.EstimatedGasCostUSD = e.gasCostUSD(ctx, len(route.Symbols)-1)
	res.NetProfitUSD = res.GrossProfitUSD.Sub(res.PremiumUSD).Sub(res.EstimatedGasCostUSD)

	if !res.NetProfitUSD.GreaterThan(e.cfg.MinProfitUSD) {
		return e.finish(res, types.DecisionSkipLowProfit,
			fmt.Sprintf("net $%s not above $%s", res.NetProfitUSD.StringFixed(4), e.cfg.MinProfitUSD))
	}

	params, err := e.buildParams(start, amountIn, path1, path2, res)
	if err != nil {
		return e.finish(res, types.DecisionSkipInvalid, err.Error())
	}
	res.Params = params
	return e.finish(res, types.DecisionExecute, "")
}

// SlippageBps returns the hop bound for a route starting at sym
func (e *Evaluator) SlippageBps(sym string) uint32 {
	if bps, ok := e.cfg.SlippageOverrides[strings.ToUpper(sym)]; ok {
		return bps
	}
	return e.cfg.MaxSlippageBps
}

func (e *Evaluator) buildParams(start tokens.Token, amountIn *big.Int, path1, path2 []common.Address, res *types.ProfitabilityResult) (*types.ExecutionParams, error) {
	bps := e.SlippageBps(start.Symbol)
	minOut1, err := umath.ApplySlippage(res.Hop1Quote.AmountOut, bps)
	if err != nil {
		return nil, fmt.Errorf("hop1 min out: %w", err)
	}
	params := &types.ExecutionParams{
		TokenIn:  start.Address,
		AmountIn: new(big.Int).Set(amountIn),
		Path1:    path1,
		Path2:    path2,
		MinOut1:  minOut1,
		MinOut2:  new(big.Int),
	}
	if res.Hop2Quote != nil {
		if params.MinOut2, err = umath.ApplySlippage(res.Hop2Quote.AmountOut, bps); err != nil {
			return nil, fmt.Errorf("hop2 min out: %w", err)
		}
	}
	return params, nil
}

func (e *Evaluator) gasCostUSD(ctx context.Context, hops int) decimal.Decimal {
	switch g := e.gas.(type) {
	case nil:
		return decimal.Zero
	case HopGasCoster:
		return g.EstimateRouteGasCostUSD(ctx, hops)
	default:
		return g.EstimateGasCostUSD(ctx)
	}
}

func (e *Evaluator) valueUSD(ctx context.Context, tok tokens.Token, amount *big.Int) (decimal.Decimal, error) {
	if e.prices == nil {
		return decimal.Zero, fmt.Errorf("no price oracle configured")
	}
	price, err := e.prices.PriceUSD(ctx, tok.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price of %s: %w", tok.Symbol, err)
	}
	return umath.USDValue(amount, tok.Decimals, price), nil
}

func (e *Evaluator) skip(route types.Route, amountIn *big.Int, d types.Decision, reason string) *types.ProfitabilityResult {
	res := &types.ProfitabilityResult{Route: route}
	if amountIn != nil {
		res.InputAmount = new(big.Int).Set(amountIn)
	}
	return e.finish(res, d, reason)
}

func (e *Evaluator) finish(res *types.ProfitabilityResult, d types.Decision, reason string) *types.ProfitabilityResult {
	res.Decision = d
	res.Reason = reason

	fields := []zap.Field{
		zap.String("route", res.Route.String()),
		zap.String("decision", d.String()),
	}
	if res.InputAmount != nil {
		fields = append(fields, zap.String("size", res.InputAmount.String()))
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if d == types.DecisionExecute || d == types.DecisionSkipLowProfit {
		fields = append(fields,
			zap.String("gross_usd", res.GrossProfitUSD.StringFixed(4)),
			zap.String("gas_usd", res.EstimatedGasCostUSD.StringFixed(4)),
			zap.String("net_usd", res.NetProfitUSD.StringFixed(4)))
	}

	if d == types.DecisionExecute {
		e.logger.Info("Profitable route", fields...)
	} else {
		e.logger.Debug("Route skipped", fields...)
	}
	return res
}
