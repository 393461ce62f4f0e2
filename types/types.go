package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Venue identifiers used when no venue produced a usable quote
const (
	VenueNone  = "none"
	VenueError = "error"
)

// Fill is one partial fill of an aggregator route
type Fill struct {
	Source        string
	ProportionBps int
}

// Quote is the output of a single venue (or of the aggregator) for one hop.
// A zero AmountOut is the "no liquidity / failed" sentinel.
type Quote struct {
	AmountOut    *big.Int
	Venue        string
	RouteSummary string
	Fills        []Fill
	Reason       string
}

// NoQuote returns the zero sentinel for a venue with a failure reason
func NoQuote(venue, reason string) *Quote {
	return &Quote{
		AmountOut: new(big.Int),
		Venue:     venue,
		Reason:    reason,
	}
}

// IsZero reports whether the quote carries no usable output
func (q *Quote) IsZero() bool {
	return q == nil || q.AmountOut == nil || q.AmountOut.Sign() <= 0
}

func (q *Quote) String() string {
	if q.IsZero() {
		return fmt.Sprintf("%s: no quote (%s)", q.Venue, q.Reason)
	}
	if q.RouteSummary != "" {
		return fmt.Sprintf("%s: %s via %s", q.Venue, q.AmountOut, q.RouteSummary)
	}
	return fmt.Sprintf("%s: %s", q.Venue, q.AmountOut)
}

// Route is an ordered path of 2 or 3 token symbols
type Route struct {
	Symbols []string
}

// NewRoute builds a route from symbols, upper-casing them
func NewRoute(symbols ...string) Route {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return Route{Symbols: out}
}

// IsTwoHop reports whether the route is A→B→C
func (r Route) IsTwoHop() bool {
	return len(r.Symbols) == 3
}

// IsRoundTrip reports whether the route starts and ends on the same token
func (r Route) IsRoundTrip() bool {
	return len(r.Symbols) == 3 && r.Start() == r.End()
}

// Start returns the input token symbol
func (r Route) Start() string {
	if len(r.Symbols) == 0 {
		return ""
	}
	return r.Symbols[0]
}

// End returns the final output token symbol
func (r Route) End() string {
	if len(r.Symbols) == 0 {
		return ""
	}
	return r.Symbols[len(r.Symbols)-1]
}

func (r Route) String() string {
	return strings.Join(r.Symbols, "→")
}

// Decision is the outcome of a route evaluation
type Decision int

const (
	DecisionExecute Decision = iota
	DecisionSkipLowProfit
	DecisionSkipNoLiquidity
	DecisionSkipVenueConflict
	DecisionSkipInvalid
)

func (d Decision) String() string {
	switch d {
	case DecisionExecute:
		return "execute"
	case DecisionSkipLowProfit:
		return "skip_low_profit"
	case DecisionSkipNoLiquidity:
		return "skip_no_liquidity"
	case DecisionSkipVenueConflict:
		return "skip_venue_conflict"
	case DecisionSkipInvalid:
		return "skip_invalid"
	default:
		return "unknown"
	}
}

// ExecutionParams is the tuple handed to the on-chain flashloan entry point
type ExecutionParams struct {
	TokenIn  common.Address
	AmountIn *big.Int
	Path1    []common.Address
	Path2    []common.Address
	MinOut1  *big.Int
	MinOut2  *big.Int
}

// ProfitabilityResult is produced once per (route, size) evaluation
type ProfitabilityResult struct {
	Route             Route
	Hop1Quote         *Quote
	Hop2Quote         *Quote
	InputAmount       *big.Int
	FinalOutputAmount *big.Int
	// GrossDelta is FinalOutputAmount - InputAmount, only set for round trips
	GrossDelta          *big.Int
	GrossProfitUSD      decimal.Decimal
	PremiumUSD          decimal.Decimal
	EstimatedGasCostUSD decimal.Decimal
	NetProfitUSD        decimal.Decimal
	Decision            Decision
	Reason              string
	Params              *ExecutionParams
}

// Candidate is a route pushed by an external producer for priority evaluation
type Candidate struct {
	Route  Route
	Source string
}
