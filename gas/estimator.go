package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/dex"
)

var ErrBaseFeeTooHigh = errors.New("base fee above configured cap")

var gwei = big.NewInt(1_000_000_000)

// headroom added on top of base + tip for the EIP-1559 fee cap
var feeCapHeadroom = new(big.Int).Mul(big.NewInt(5), gwei)

// FeeClient is the slice of ethclient.Client the estimator needs
type FeeClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// NativePricer prices the chain's native token in USD
type NativePricer interface {
	Latest(ctx context.Context) (decimal.Decimal, error)
}

type Config struct {
	GasStationURL string
	// GasUnits fixes the units of every transaction; zero prices by hop count
	GasUnits          uint64
	FallbackGasPrice  *big.Int
	FallbackNativeUSD decimal.Decimal
	MaxBaseFee        *big.Int
	PriorityFee       *big.Int
	UpdateInterval    time.Duration
}

// GweiToWei converts a gwei amount that may carry a fraction
func GweiToWei(g float64) *big.Int {
	return decimal.NewFromFloat(g).Shift(9).Truncate(0).BigInt()
}

// OptionalGwei is GweiToWei with zero or less meaning unset
func OptionalGwei(g float64) *big.Int {
	if g <= 0 {
		return nil
	}
	return GweiToWei(g)
}

type stationResponse struct {
	Fast struct {
		MaxPriorityFee float64 `json:"maxPriorityFee"`
		MaxFee         float64 `json:"maxFee"`
	} `json:"fast"`
	EstimatedBaseFee float64 `json:"estimatedBaseFee"`
}

// Estimator provides gas price estimation and tracking. Every lookup degrades
// to a fixed fallback so cost estimation never fails.
type Estimator struct {
	client  FeeClient
	station *dex.APIClient
	native  NativePricer
	cfg     Config
	logger  *zap.Logger

	mu        sync.RWMutex
	gasPrice  *big.Int
	nativeUSD decimal.Decimal
	baseFee   *big.Int
	updated   time.Time
	now       func() time.Time
}

// NewEstimator creates a new gas estimator. client, station and native may be
// nil; the matching fallback is then always used.
func NewEstimator(cfg Config, client FeeClient, station *dex.APIClient, native NativePricer, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackGasPrice == nil {
		cfg.FallbackGasPrice = new(big.Int).Mul(big.NewInt(35), gwei)
	}
	if cfg.FallbackNativeUSD.IsZero() {
		cfg.FallbackNativeUSD = decimal.RequireFromString("0.8")
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = 15 * time.Second
	}
	return &Estimator{
		client:  client,
		station: station,
		native:  native,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start refreshes prices every UpdateInterval until ctx is done
func (e *Estimator) Start(ctx context.Context) {
	e.Update(ctx)
	ticker := time.NewTicker(e.cfg.UpdateInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Update(ctx)
			}
		}
	}()
}

// Update fetches latest gas and native prices, falling back per field
func (e *Estimator) Update(ctx context.Context) {
	gasPrice, err := e.fetchGasPrice(ctx)
	if err != nil {
		e.logger.Warn("Using fallback gas price", zap.Error(err))
		gasPrice = new(big.Int).Set(e.cfg.FallbackGasPrice)
	}

	nativeUSD := e.cfg.FallbackNativeUSD
	if e.native != nil {
		if p, err := e.native.Latest(ctx); err == nil && p.IsPositive() {
			nativeUSD = p
		} else {
			e.logger.Warn("Using fallback native price", zap.Error(err))
		}
	}

	var baseFee *big.Int
	if e.client != nil {
		if head, err := e.client.HeaderByNumber(ctx, nil); err == nil && head.BaseFee != nil {
			baseFee = head.BaseFee
		}
	}

	e.mu.Lock()
	e.gasPrice = gasPrice
	e.nativeUSD = nativeUSD
	e.baseFee = baseFee
	e.updated = e.now()
	e.mu.Unlock()
}

func (e *Estimator) fetchGasPrice(ctx context.Context) (*big.Int, error) {
	var errs []error
	if e.station != nil && e.cfg.GasStationURL != "" {
		var resp stationResponse
		err := e.station.GetJSON(ctx, e.cfg.GasStationURL, nil, nil, &resp)
		if err == nil && resp.Fast.MaxFee > 0 {
			return GweiToWei(resp.Fast.MaxFee), nil
		}
		if err == nil {
			err = fmt.Errorf("gas station returned no fast fee")
		}
		errs = append(errs, err)
	}
	if e.client != nil {
		p, err := e.client.SuggestGasPrice(ctx)
		if err == nil && p.Sign() > 0 {
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("node suggested zero gas price")
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no gas price source configured")
	}
	return nil, errors.Join(errs...)
}

func (e *Estimator) snapshot(ctx context.Context) (*big.Int, decimal.Decimal, *big.Int) {
	e.mu.RLock()
	stale := e.gasPrice == nil || e.now().Sub(e.updated) > 2*e.cfg.UpdateInterval
	e.mu.RUnlock()
	if stale {
		e.Update(ctx)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var base *big.Int
	if e.baseFee != nil {
		base = new(big.Int).Set(e.baseFee)
	}
	return new(big.Int).Set(e.gasPrice), e.nativeUSD, base
}

// GasPriceWei returns the current gas price
func (e *Estimator) GasPriceWei(ctx context.Context) *big.Int {
	p, _, _ := e.snapshot(ctx)
	return p
}

// NativeUSD returns the current native token price in USD
func (e *Estimator) NativeUSD(ctx context.Context) decimal.Decimal {
	_, n, _ := e.snapshot(ctx)
	return n
}

// EstimateGasCostUSD prices a two-hop arbitrage in USD
func (e *Estimator) EstimateGasCostUSD(ctx context.Context) decimal.Decimal {
	return e.EstimateRouteGasCostUSD(ctx, 2)
}

// EstimateRouteGasCostUSD prices an arbitrage of hops swaps in USD
func (e *Estimator) EstimateRouteGasCostUSD(ctx context.Context, hops int) decimal.Decimal {
	price, nativeUSD, _ := e.snapshot(ctx)
	cost := new(big.Int).Mul(price, new(big.Int).SetUint64(e.GasUnits(hops)))
	return decimal.NewFromBigInt(cost, -18).Mul(nativeUSD)
}

// GasUnits returns the configured units, or the per-hop estimate when none
// are configured.
func (e *Estimator) GasUnits(hops int) uint64 {
	if e.cfg.GasUnits > 0 {
		return e.cfg.GasUnits
	}
	return e.EstimateArbitrageGas(hops)
}

// FeeCaps returns EIP-1559 tip and fee caps: tip is the configured priority
// fee or the node's suggestion, fee cap is base + tip + 5 gwei.
func (e *Estimator) FeeCaps(ctx context.Context) (tip, feeCap *big.Int, err error) {
	_, _, base := e.snapshot(ctx)
	if base == nil {
		return nil, nil, fmt.Errorf("base fee unavailable")
	}
	if e.cfg.MaxBaseFee != nil && base.Cmp(e.cfg.MaxBaseFee) > 0 {
		return nil, nil, fmt.Errorf("%w: %s gwei", ErrBaseFeeTooHigh, decimal.NewFromBigInt(base, -9).StringFixed(2))
	}

	tip = e.cfg.PriorityFee
	if tip == nil && e.client != nil {
		if t, err := e.client.SuggestGasTipCap(ctx); err == nil {
			tip = t
		}
	}
	if tip == nil {
		tip = new(big.Int).Mul(big.NewInt(30), gwei)
	}
	tip = new(big.Int).Set(tip)

	feeCap = new(big.Int).Add(base, tip)
	feeCap.Add(feeCap, feeCapHeadroom)
	return tip, feeCap, nil
}

// EstimateArbitrageGas estimates gas for a typical arbitrage transaction
func (e *Estimator) EstimateArbitrageGas(numHops int) uint64 {
	if numHops < 1 {
		numHops = 1
	}
	baseCost := uint64(21000)
	// flashloan borrow and repay on top of the swaps
	flashloanCost := uint64(120000)
	costPerHop := uint64(152000)

	return baseCost + flashloanCost + (costPerHop * uint64(numHops))
}
