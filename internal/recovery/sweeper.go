// Package recovery returns rested login accounts to service.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/metrics"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// Defaults applied by NewSweeper.
const (
	DefaultInterval  = time.Minute
	DefaultThreshold = time.Hour
)

// Config controls how often the sweep runs and how long an account must rest.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Sweeper moves EXHAUSTED accounts back to NORMAL once they have rested for
// the threshold.
type Sweeper struct {
	accounts  taskqueue.AccountPool
	clock     taskqueue.Clock
	interval  time.Duration
	threshold time.Duration
	logger    *zap.Logger
}

// NewSweeper builds a Sweeper.
func NewSweeper(accounts taskqueue.AccountPool, clock taskqueue.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Sweeper{
		accounts:  accounts,
		clock:     clock,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		logger:    logger.Named("recovery"),
	}
}

// SweepOnce recovers every account whose status changed at or before
// now minus the threshold.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.threshold)
	n, err := s.accounts.BulkRecover(ctx, cutoff, taskqueue.AccountExhausted, taskqueue.AccountNormal)
	if err != nil {
		return 0, fmt.Errorf("recover exhausted accounts: %w", err)
	}
	metrics.ObserveRecovered(n)
	if n > 0 {
		s.logger.Info("accounts recovered", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	} else {
		s.logger.Debug("no accounts due for recovery", zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. Sweep errors are logged and
// the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("account recovery sweep failed", zap.Error(err))
			}
		}
	}
}
