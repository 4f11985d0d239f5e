package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxManifestBytes bounds how much of a health response we read.
const maxManifestBytes = 1 << 20

// Result is the outcome of probing one endpoint. A probe never returns an
// error; every failure mode collapses to Healthy=false with a reason.
type Result struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Prober checks the health of a single addon endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint string) Result
}

// HTTPProber probes addon endpoints by fetching their manifest over HTTP.
// A 2xx response with a parseable JSON body is healthy; non-2xx statuses,
// transport errors, timeouts and malformed bodies are unhealthy. Outbound
// probes across all rules share one token-bucket rate limit.
type HTTPProber struct {
	client  *http.Client
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPProber creates a prober. probesPerSec caps total outbound probes
// per second; zero or negative disables the limit.
func NewHTTPProber(policy RetryPolicy, probesPerSec int, logger *zap.Logger) *HTTPProber {
	policy = policy.normalized()

	limit := rate.Inf
	burst := 1
	if probesPerSec > 0 {
		limit = rate.Limit(probesPerSec)
		burst = probesPerSec
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: policy.Timeout,
		},
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Probe performs one bounded health check against an endpoint.
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) Result {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{Healthy: false, Error: fmt.Sprintf("rate limit wait: %v", err)}
	}

	start := time.Now()
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		return p.fetch(ctx, endpoint)
	})
	latency := time.Since(start)

	if err != nil {
		p.logger.Debug("probe failed",
			zap.String("endpoint", endpoint),
			zap.Duration("latency", latency),
			zap.Error(err))
		return Result{Healthy: false, Latency: latency, Error: err.Error()}
	}

	return Result{Healthy: true, Latency: latency}
}

func (p *HTTPProber) fetch(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Autopilot-HealthProbe/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var manifest json.RawMessage
	if err := json.Unmarshal(body, &manifest); err != nil {
		return fmt.Errorf("malformed manifest: %w", err)
	}

	return nil
}
