package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

const Namespace = "polyarb"

// NewRegistry returns a registry preloaded with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes reg on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type QuoteMetrics struct {
	Requests        *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Latency         *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	UnsupportedHits prometheus.Counter
}

func NewQuoteMetrics(reg prometheus.Registerer) *QuoteMetrics {
	f := promauto.With(reg)
	return &QuoteMetrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "requests_total",
			Help:      "Quote requests per venue",
		}, []string{"venue"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "failures_total",
			Help:      "Venue calls that produced no quote",
		}, []string{"venue"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "rejections_total",
			Help:      "Quotes discarded by a filter",
		}, []string{"venue", "filter"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "latency_seconds",
			Help:      "Venue quote latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"venue"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "rate_limited_total",
			Help:      "HTTP 429 responses from quote APIs",
		}),
		UnsupportedHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quote",
			Name:      "unsupported_pair_hits_total",
			Help:      "Venue calls skipped by the unsupported pair cache",
		}),
	}
}

type ScannerMetrics struct {
	Evaluations *prometheus.CounterVec
	NetProfit   prometheus.Histogram
	Executions  *prometheus.CounterVec
	PassTime    prometheus.Histogram
	GasPrice    prometheus.Gauge
	Candidates  prometheus.Counter
}

func NewScannerMetrics(reg prometheus.Registerer) *ScannerMetrics {
	f := promauto.With(reg)
	return &ScannerMetrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scanner",
			Name:      "evaluations_total",
			Help:      "Route evaluations by decision",
		}, []string{"decision"}),
		NetProfit: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scanner",
			Name:      "net_profit_usd",
			Help:      "Net profit of evaluated routes in USD",
			Buckets:   []float64{-10, -1, -0.1, 0, 0.05, 0.1, 0.5, 1, 5, 10, 50},
		}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scanner",
			Name:      "executions_total",
			Help:      "Flashloan executions by outcome",
		}, []string{"outcome"}),
		PassTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scanner",
			Name:      "pass_duration_seconds",
			Help:      "Time taken by one full scan pass",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		GasPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "scanner",
			Name:      "gas_price_gwei",
			Help:      "Last gas price used for cost estimates",
		}),
		Candidates: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mempool",
			Name:      "candidates_total",
			Help:      "Routes proposed by the mempool watcher",
		}),
	}
}

// CounterValue reads the current value of a counter. Returns 0 if the
// metric cannot be written out.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
