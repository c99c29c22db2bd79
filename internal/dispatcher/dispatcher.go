// Package dispatcher claims login-bound crawl tasks on a fixed interval and
// hands each one to the executor together with a usable account.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/metrics"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// Outcome names how a tick ended. Values double as metric labels.
type Outcome string

// Tick outcomes.
const (
	OutcomeDisabled   Outcome = "disabled"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeInFlight   Outcome = "in_flight"
	OutcomeNoWork     Outcome = "no_work"
	OutcomeNoCapacity Outcome = "no_capacity"
	OutcomeRaceLost   Outcome = "race_lost"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFatal      Outcome = "fatal"
)

// DefaultInterval is used when Config.Interval is not positive.
const DefaultInterval = 10 * time.Second

// claimOrder is the candidate priority: resume paused work before new work.
var claimOrder = []taskqueue.TaskStatus{taskqueue.StatusPaused, taskqueue.StatusPending}

// Config controls the tick cadence and the initial enabled state.
type Config struct {
	Interval time.Duration
	Enabled  bool
}

// Dispatcher runs the claim loop. The zero value is not usable; call New.
type Dispatcher struct {
	tasks    taskqueue.TaskStore
	accounts taskqueue.AccountPool
	executor taskqueue.Executor
	interval time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer

	enabled atomic.Bool
	ticking atomic.Bool

	mu      sync.RWMutex
	lastErr error

	handoffs sync.WaitGroup
}

// New wires a Dispatcher.
func New(
	tasks taskqueue.TaskStore,
	accounts taskqueue.AccountPool,
	executor taskqueue.Executor,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	d := &Dispatcher{
		tasks:    tasks,
		accounts: accounts,
		executor: executor,
		interval: interval,
		logger:   logger.Named("dispatcher"),
		tracer:   otel.Tracer("github.com/JakeFAU/crawl-dispatcher/internal/dispatcher"),
	}
	d.enabled.Store(cfg.Enabled)
	metrics.SetDispatcherEnabled(cfg.Enabled)
	return d
}

// Run ticks every interval until ctx is done. A tick that outlasts the
// interval causes the missed firings to be dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Bool("enabled", d.Enabled()),
	)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick performs one dispatch attempt and reports how it ended. Overlapping
// calls return OutcomeSkipped without touching the stores.
func (d *Dispatcher) Tick(ctx context.Context) Outcome {
	if !d.ticking.CompareAndSwap(false, true) {
		metrics.ObserveTick(string(OutcomeSkipped))
		return OutcomeSkipped
	}
	defer d.ticking.Store(false)

	ctx, span := d.tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	outcome, err := d.safeTick(ctx, span)
	if outcome == OutcomeFatal {
		d.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("dispatcher.outcome", string(outcome)))
	metrics.ObserveTick(string(outcome))
	return outcome
}

func (d *Dispatcher) safeTick(ctx context.Context, span trace.Span) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomeFatal, fmt.Errorf("tick panic: %v", r)
		}
	}()
	return d.tick(ctx, span)
}

func (d *Dispatcher) tick(ctx context.Context, span trace.Span) (Outcome, error) {
	if !d.Enabled() {
		return OutcomeDisabled, nil
	}

	busy, err := d.tasks.ExistsWithStatus(ctx, taskqueue.StatusInProgress, true)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("check in-flight task: %w", err)
	}
	if busy {
		d.logger.Debug("login-bound task already in progress")
		return OutcomeInFlight, nil
	}

	candidate, err := d.tasks.FindFirst(ctx, claimOrder, true)
	if err != nil {
		if taskqueue.IsExpectedEmpty(err) {
			d.logger.Info("no task to dispatch")
			return OutcomeNoWork, nil
		}
		return OutcomeFatal, fmt.Errorf("find candidate task: %w", err)
	}
	span.SetAttributes(attribute.String("task.id", candidate.ID))

	account, err := d.accounts.FindFirstNormal(ctx)
	if err != nil {
		if taskqueue.IsExpectedEmpty(err) {
			d.logger.Info("no usable login account", zap.String("task_id", candidate.ID))
			return OutcomeNoCapacity, nil
		}
		return OutcomeFatal, fmt.Errorf("find login account: %w", err)
	}

	claimed, err := d.tasks.TransitionStatus(ctx, candidate.ID, candidate.Version, taskqueue.StatusInProgress)
	if err != nil {
		if errors.Is(err, taskqueue.ErrRaceLost) {
			d.logger.Debug("claim lost to another dispatcher", zap.String("task_id", candidate.ID), zap.Error(err))
			return OutcomeRaceLost, nil
		}
		return OutcomeFatal, fmt.Errorf("claim task %s: %w", candidate.ID, err)
	}

	d.logger.Info("task dispatched",
		zap.String("task_id", claimed.ID),
		zap.String("task_type", string(claimed.Type)),
		zap.String("account_id", account.ID),
		zap.String("resume_from", claimed.NextPageToken),
	)
	d.handOff(ctx, claimed, account)
	return OutcomeDispatched, nil
}

// handOff runs the executor without blocking the tick. The execution outlives
// the tick span but keeps the trace context.
func (d *Dispatcher) handOff(ctx context.Context, task taskqueue.TaskRecord, account taskqueue.LoginAccount) {
	d.handoffs.Add(1)
	go func() {
		defer d.handoffs.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("executor panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
			}
		}()
		d.executor.Execute(ctx, task, account)
	}()
}

func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
	d.enabled.Store(false)
	metrics.SetDispatcherEnabled(false)
	d.logger.Error("dispatcher disabled after fatal error", zap.Error(err))
}

// Enable turns dispatching on and clears the last fatal error.
func (d *Dispatcher) Enable() {
	d.mu.Lock()
	d.lastErr = nil
	d.mu.Unlock()
	d.enabled.Store(true)
	metrics.SetDispatcherEnabled(true)
	d.logger.Info("dispatcher enabled")
}

// Disable turns dispatching off. In-flight executions continue.
func (d *Dispatcher) Disable() {
	d.enabled.Store(false)
	metrics.SetDispatcherEnabled(false)
	d.logger.Info("dispatcher disabled")
}

// Enabled reports whether ticks may claim work.
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// LastError returns the error that last disabled the dispatcher, if any.
func (d *Dispatcher) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// Interval returns the configured tick period.
func (d *Dispatcher) Interval() time.Duration {
	return d.interval
}

// Wait blocks until every handed-off execution has returned.
func (d *Dispatcher) Wait() {
	d.handoffs.Wait()
}
