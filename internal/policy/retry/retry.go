// Package retry re-issues fetches that failed in transport with jittered
// exponential backoff. Remote statuses are not retried here; they are
// classified by the crawl client.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
)

// Config bounds the number of attempts and the delay between them.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Policy implements exponential backoff with jitter.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewPolicy builds a policy, filling zero fields with defaults.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Second
	}
	return p
}

// ShouldRetry decides whether err after the given attempt (1-based) is worth
// another try.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Fetcher wraps a crawl.Fetcher with a retry policy.
type Fetcher struct {
	next   crawl.Fetcher
	policy *Policy
	logger *zap.Logger
}

// Wrap returns next guarded by policy.
func Wrap(next crawl.Fetcher, policy *Policy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, logger: logger.Named("retry")}
}

// Fetch implements crawl.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req crawl.Request) (crawl.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, req)
		if !f.policy.ShouldRetry(err, attempt) {
			return resp, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawl.Response{}, ctx.Err()
		case <-timer.C:
		}
	}
}
