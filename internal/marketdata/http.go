// Package marketdata fetches pool analytics from the Meteora DLMM API and
// token pair data from DexScreener. Every request first queues on a rate
// limiter shared by all callers of the same upstream.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/ratelimit"
)

// DefaultQueueTimeout bounds how long a request may wait for a limiter slot.
const DefaultQueueTimeout = 10 * time.Second

// Option configures an API client.
type Option func(*base)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.http = c }
}

// WithLimiter replaces the default in-process limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(b *base) { b.limiter = l }
}

// WithQueueTimeout sets the limiter queue timeout.
func WithQueueTimeout(d time.Duration) Option {
	return func(b *base) { b.queueTimeout = d }
}

type base struct {
	source       string
	baseURL      string
	http         *http.Client
	limiter      ratelimit.Limiter
	queueTimeout time.Duration
}

func newBase(source, baseURL string, ratePerSec float64, opts []Option) base {
	b := base{
		source:       source,
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 15 * time.Second},
		limiter:      ratelimit.NewRateLimiter(ratePerSec, 1),
		queueTimeout: DefaultQueueTimeout,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// getJSON waits for a limiter slot, performs GET baseURL+path and decodes the body into out.
//
// A queue timeout is returned as ratelimit.ErrQueueTimeout. Transport errors
// and non-2xx responses wrap domain.ErrUpstreamUnavailable.
func (b *base) getJSON(ctx context.Context, path string, out interface{}) error {
	start := time.Now()
	err := ratelimit.WaitQueued(ctx, b.limiter, b.queueTimeout)
	observability.RecordLimiterWait(b.source, time.Since(start).Seconds(), errors.Is(err, ratelimit.ErrQueueTimeout))
	if err != nil {
		observability.RecordUpstream(b.source, "queued_out")
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", b.source, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		observability.RecordUpstream(b.source, "error")
		return fmt.Errorf("%s: GET %s: %v: %w", b.source, path, err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordUpstream(b.source, "error")
		return fmt.Errorf("%s: read response: %v: %w", b.source, err, domain.ErrUpstreamUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.RecordUpstream(b.source, fmt.Sprintf("%d", resp.StatusCode))
		return fmt.Errorf("%s: GET %s: status %d: %s: %w", b.source, path, resp.StatusCode, truncate(body, 200), domain.ErrUpstreamUnavailable)
	}

	if err := json.Unmarshal(body, out); err != nil {
		observability.RecordUpstream(b.source, "decode_error")
		return fmt.Errorf("%s: decode %s: %w", b.source, path, err)
	}

	observability.RecordUpstream(b.source, "ok")
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
