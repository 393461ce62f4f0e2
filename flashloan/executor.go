package flashloan

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/simulator"
	"github.com/michaelpento.lv/polyarb/types"
)

var (
	// ErrNotExecutable covers results the contract cannot settle
	ErrNotExecutable         = errors.New("result is not executable")
	ErrSimulationReverted    = errors.New("simulation reverted")
	ErrInsufficientLiquidity = errors.New("loan exceeds lender liquidity")
)

type Config struct {
	ProfitBot common.Address
	ChainID   *big.Int
	// GasLimit caps the gas of submitted transactions; 0 uses the estimate
	GasLimit        uint64
	DryRun          bool
	QuoteOnlyVenues []string
	// WaitMined blocks Execute until the receipt is available
	WaitMined bool
}

// Outcome is what Execute did with a profitable result
type Outcome struct {
	DryRun      bool
	GasEstimate uint64
	TxHash      common.Hash
	// Status is the receipt status, only set when the executor waited
	Status uint64
}

// Executor hands profitable evaluations to ProfitBot.initiateFlashloan
type Executor struct {
	backend   Backend
	sim       *simulator.Simulator
	fees      FeeCapper
	lender    Lender
	key       *ecdsa.PrivateKey
	from      common.Address
	cfg       Config
	quoteOnly map[string]bool
	logger    *zap.Logger
}

// NewExecutor creates an executor. key may be nil in dry-run mode; lender
// may be nil to skip the liquidity check.
func NewExecutor(cfg Config, backend Backend, fees FeeCapper, lender Lender, key *ecdsa.PrivateKey, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProfitBot == (common.Address{}) {
		return nil, fmt.Errorf("profitbot address not configured")
	}
	if key == nil && !cfg.DryRun {
		return nil, fmt.Errorf("private key required for live execution")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id required")
	}

	e := &Executor{
		backend:   backend,
		sim:       simulator.NewSimulator(backend, logger),
		fees:      fees,
		lender:    lender,
		key:       key,
		cfg:       cfg,
		quoteOnly: make(map[string]bool, len(cfg.QuoteOnlyVenues)),
		logger:    logger.With(zap.String("profitbot", cfg.ProfitBot.Hex())),
	}
	if key != nil {
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, v := range cfg.QuoteOnlyVenues {
		e.quoteOnly[strings.ToLower(v)] = true
	}
	return e, nil
}

// Check reports why res cannot be executed, or nil
func (e *Executor) Check(res *types.ProfitabilityResult) error {
	if res == nil || res.Decision != types.DecisionExecute || res.Params == nil {
		return fmt.Errorf("%w: decision is not execute", ErrNotExecutable)
	}
	p := res.Params
	if len(p.Path1) != 2 || len(p.Path2) != 2 {
		return fmt.Errorf("%w: flashloan needs two hops", ErrNotExecutable)
	}
	if p.Path1[0] != p.TokenIn || p.Path2[1] != p.TokenIn {
		return fmt.Errorf("%w: route does not repay %s", ErrNotExecutable, p.TokenIn.Hex())
	}
	for _, q := range []*types.Quote{res.Hop1Quote, res.Hop2Quote} {
		if q != nil && e.quoteOnly[strings.ToLower(q.Venue)] {
			return fmt.Errorf("%w: %s is quote-only", ErrNotExecutable, q.Venue)
		}
	}
	return nil
}

// Execute simulates and, unless in dry-run mode, submits the flashloan.
// A dry run only estimates gas, which already fails on revert.
func (e *Executor) Execute(ctx context.Context, res *types.ProfitabilityResult) (*Outcome, error) {
	if err := e.Check(res); err != nil {
		return nil, err
	}
	p := res.Params

	if e.lender != nil {
		maxLoan, err := e.lender.MaxLoan(ctx, p.TokenIn)
		if err != nil {
			e.logger.Warn("Lender liquidity unavailable", zap.String("lender", e.lender.String()), zap.Error(err))
		} else if p.AmountIn.Cmp(maxLoan) > 0 {
			return nil, fmt.Errorf("%w: %s > %s", ErrInsufficientLiquidity, p.AmountIn, maxLoan)
		}
	}

	data, err := PackInitiate(p)
	if err != nil {
		return nil, fmt.Errorf("pack initiateFlashloan: %w", err)
	}
	to := e.cfg.ProfitBot
	msg := ethereum.CallMsg{From: e.from, To: &to, Data: data}

	route := zap.String("route", res.Route.String())

	if e.cfg.DryRun {
		sim, err := e.sim.EstimateGas(ctx, msg)
		if err != nil {
			return nil, err
		}
		if !sim.Success {
			return nil, fmt.Errorf("%w: %s", ErrSimulationReverted, sim.RevertReason)
		}
		e.logger.Info("Dry run gas estimate", route, zap.Uint64("gas", sim.GasUsed))
		return &Outcome{DryRun: true, GasEstimate: sim.GasUsed}, nil
	}

	sim, err := e.sim.Simulate(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !sim.Success {
		return nil, fmt.Errorf("%w: %s", ErrSimulationReverted, sim.RevertReason)
	}

	tx, err := e.send(ctx, msg, sim.GasUsed)
	if err != nil {
		return nil, err
	}
	out := &Outcome{GasEstimate: sim.GasUsed, TxHash: tx.Hash()}
	e.logger.Info("Flashloan submitted", route, zap.String("tx", tx.Hash().Hex()))

	if e.cfg.WaitMined {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		receipt, err := bind.WaitMined(waitCtx, e.backend, tx)
		if err != nil {
			return out, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
		}
		out.Status = receipt.Status
		e.logger.Info("Flashloan mined",
			route,
			zap.String("tx", tx.Hash().Hex()),
			zap.Uint64("status", receipt.Status),
			zap.Uint64("gas_used", receipt.GasUsed))
	}
	return out, nil
}

func (e *Executor) send(ctx context.Context, msg ethereum.CallMsg, estimate uint64) (*ethtypes.Transaction, error) {
	tip, feeCap, err := e.fees.FeeCaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("fee caps: %w", err)
	}
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	// 20% headroom over the estimate
	gas := estimate + estimate/5
	if e.cfg.GasLimit > 0 && gas > e.cfg.GasLimit {
		gas = e.cfg.GasLimit
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        msg.To,
		Value:     big.NewInt(0),
		Data:      msg.Data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.cfg.ChainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}
