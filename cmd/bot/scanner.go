package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/polyarb/flashloan"
	"github.com/michaelpento.lv/polyarb/storage"
	"github.com/michaelpento.lv/polyarb/types"
	"github.com/michaelpento.lv/polyarb/utils/metrics"
)

// SourceScan tags evaluations made by the periodic pass
const SourceScan = "scan"

type RouteEvaluator interface {
	EvaluateSize(ctx context.Context, route types.Route, size string) *types.ProfitabilityResult
}

type Executor interface {
	Execute(ctx context.Context, res *types.ProfitabilityResult) (*flashloan.Outcome, error)
}

type Journal interface {
	RecordEvaluation(ctx context.Context, res *types.ProfitabilityResult, source string) error
	RecordExecution(ctx context.Context, e storage.Execution) error
}

// PassSummary counts the decisions of one pass
type PassSummary struct {
	Evaluated int
	Decisions map[types.Decision]int
	Executed  int
	Duration  time.Duration
}

type ScannerConfig struct {
	Sizes       []string
	Concurrency int
	Interval    time.Duration
}

// Scanner evaluates every (route, size) pair on a fixed interval and,
// between passes, the candidate routes pushed by producers.
type Scanner struct {
	cfg        ScannerConfig
	routes     []types.Route
	evaluator  RouteEvaluator
	executor   Executor
	journal    Journal
	candidates <-chan types.Candidate
	metrics    *metrics.ScannerMetrics
	logger     *zap.Logger

	// one execution at a time so nonces do not collide
	execMu sync.Mutex
}

// NewScanner creates a scanner. executor, journal, candidates and m may be
// nil.
func NewScanner(cfg ScannerConfig, routes []types.Route, evaluator RouteEvaluator, executor Executor, journal Journal, candidates <-chan types.Candidate, m *metrics.ScannerMetrics, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Scanner{
		cfg:        cfg,
		routes:     routes,
		evaluator:  evaluator,
		executor:   executor,
		journal:    journal,
		candidates: candidates,
		metrics:    m,
		logger:     logger,
	}
}

// Run scans until ctx is cancelled
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Starting scanner",
		zap.Int("routes", len(s.routes)),
		zap.Strings("sizes", s.cfg.Sizes),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Duration("interval", s.cfg.Interval))

	for {
		summary, err := s.RunPass(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.logger.Info("Scan pass complete",
			zap.Int("evaluated", summary.Evaluated),
			zap.Int("profitable", summary.Decisions[types.DecisionExecute]),
			zap.Int("executed", summary.Executed),
			zap.Duration("duration", summary.Duration))

		if err := s.idle(ctx, s.cfg.Interval); err != nil {
			return nil
		}
	}
}

// RunPass evaluates every configured route at every size
func (s *Scanner) RunPass(ctx context.Context) (*PassSummary, error) {
	start := time.Now()
	summary, err := s.evaluateAll(ctx, s.routes, SourceScan)
	if err != nil {
		return nil, err
	}
	summary.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.PassTime.Observe(summary.Duration.Seconds())
	}
	return summary, nil
}

// idle waits for d, evaluating queued candidates as they arrive
func (s *Scanner) idle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case c, ok := <-s.candidates:
			if !ok {
				s.candidates = nil
				continue
			}
			batch := s.drain(c)
			if _, err := s.evaluateBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// drain collects the candidates already queued behind first, without
// duplicate routes
func (s *Scanner) drain(first types.Candidate) []types.Candidate {
	seen := map[uint64]bool{routeKey(first.Route): true}
	batch := []types.Candidate{first}
	for {
		select {
		case c, ok := <-s.candidates:
			if !ok {
				s.candidates = nil
				return batch
			}
			key := routeKey(c.Route)
			if seen[key] {
				continue
			}
			seen[key] = true
			batch = append(batch, c)
		default:
			return batch
		}
	}
}

func (s *Scanner) evaluateBatch(ctx context.Context, batch []types.Candidate) (*PassSummary, error) {
	bySource := make(map[string][]types.Route)
	for _, c := range batch {
		bySource[c.Source] = append(bySource[c.Source], c.Route)
	}
	total := &PassSummary{Decisions: make(map[types.Decision]int)}
	for source, routes := range bySource {
		s.logger.Debug("Evaluating candidates", zap.String("source", source), zap.Int("routes", len(routes)))
		summary, err := s.evaluateAll(ctx, routes, source)
		if err != nil {
			return nil, err
		}
		total.Evaluated += summary.Evaluated
		total.Executed += summary.Executed
		for d, n := range summary.Decisions {
			total.Decisions[d] += n
		}
	}
	return total, nil
}

func (s *Scanner) evaluateAll(ctx context.Context, routes []types.Route, source string) (*PassSummary, error) {
	summary := &PassSummary{Decisions: make(map[types.Decision]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, route := range routes {
		for _, size := range s.cfg.Sizes {
			route, size := route, size
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := s.evaluator.EvaluateSize(gctx, route, size)
				executed := s.handle(gctx, res, source)

				mu.Lock()
				summary.Evaluated++
				summary.Decisions[res.Decision]++
				if executed {
					summary.Executed++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

// handle records res and executes it when profitable. Reports whether an
// execution was submitted or dry-run successfully.
func (s *Scanner) handle(ctx context.Context, res *types.ProfitabilityResult, source string) bool {
	if s.metrics != nil {
		s.metrics.Evaluations.WithLabelValues(res.Decision.String()).Inc()
		net, _ := res.NetProfitUSD.Float64()
		s.metrics.NetProfit.Observe(net)
	}
	if s.journal != nil {
		if err := s.journal.RecordEvaluation(ctx, res, source); err != nil {
			s.logger.Warn("Failed to journal evaluation", zap.Error(err))
		}
	}
	if res.Decision != types.DecisionExecute || s.executor == nil {
		return false
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	out, err := s.executor.Execute(ctx, res)
	rec := storage.Execution{Route: res.Route.String()}
	outcome := "submitted"
	switch {
	case err != nil:
		rec.Error = err.Error()
		outcome = outcomeLabel(err)
		s.logger.Warn("Execution failed", zap.String("route", res.Route.String()), zap.Error(err))
	case out.DryRun:
		outcome = "dry_run"
	}
	if out != nil {
		rec.DryRun = out.DryRun
		rec.GasEstimate = out.GasEstimate
		rec.TxHash = out.TxHash
		rec.Status = out.Status
	}

	if s.metrics != nil {
		s.metrics.Executions.WithLabelValues(outcome).Inc()
	}
	if s.journal != nil {
		if err := s.journal.RecordExecution(ctx, rec); err != nil {
			s.logger.Warn("Failed to journal execution", zap.Error(err))
		}
	}
	return err == nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, flashloan.ErrNotExecutable):
		return "refused"
	case errors.Is(err, flashloan.ErrSimulationReverted):
		return "reverted"
	case errors.Is(err, flashloan.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	default:
		return "error"
	}
}
