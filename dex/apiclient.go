package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	contentTypeJSON = "application/json"
	maxErrorBody    = 2048
)

// StatusError is a non-2xx answer from a venue API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// RetryPolicy controls the backoff applied to HTTP 429 answers only
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxJitter   time.Duration
}

// Backoff returns base * 2^attempt plus up to MaxJitter of random jitter
func (p RetryPolicy) Backoff(attempt int, jitter float64) time.Duration {
	d := p.BaseBackoff << uint(attempt)
	if p.MaxJitter > 0 {
		d += time.Duration(jitter * float64(p.MaxJitter))
	}
	return d
}

type APIClientConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             RetryPolicy
}

// APIClient is a rate-limited JSON-over-HTTP client shared by the aggregator
// venues. Only 429 answers are retried; every other failure is returned
// immediately.
type APIClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *zap.Logger

	// sleep and jitter are replaced in tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64

	// OnRateLimited is called for every 429 received
	OnRateLimited func()
}

func NewAPIClient(cfg APIClientConfig, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &APIClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		retry:      cfg.Retry,
		logger:     logger,
		sleep:      sleepCtx,
		jitter:     rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetJSON issues a GET and decodes a 2xx body into out
func (c *APIClient) GetJSON(ctx context.Context, endpoint string, query url.Values, headers http.Header, out interface{}) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		body, status, err := c.do(ctx, u.String(), headers)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests {
			if c.OnRateLimited != nil {
				c.OnRateLimited()
			}
			if attempt >= c.retry.MaxRetries {
				return fmt.Errorf("%w after %d attempts", ErrRateLimited, attempt+1)
			}
			backoff := c.retry.Backoff(attempt, c.jitter())
			c.logger.Debug("Rate limited, backing off",
				zap.String("host", u.Host),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		if status < 200 || status >= 300 {
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return &StatusError{Code: status, Body: string(body)}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

func (c *APIClient) do(ctx context.Context, target string, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
