// Package executor runs claimed crawl tasks. It dispatches on task type to a
// registered strategy, classifies how the crawl ended, and applies the
// resulting task and account transitions.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/metrics"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// maxAccountAttempts bounds SetStatus retries after lost races.
const maxAccountAttempts = 3

// Hasher fingerprints result payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls where results go.
type Config struct {
	ResultPrefix string
	Topic        string
}

// Executor implements taskqueue.Executor.
type Executor struct {
	tasks      taskqueue.TaskStore
	accounts   taskqueue.AccountPool
	blobs      taskqueue.BlobStore
	publisher  taskqueue.Publisher
	hasher     Hasher
	clock      taskqueue.Clock
	strategies map[taskqueue.TaskType]Strategy
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Executor with no strategies registered.
func New(
	tasks taskqueue.TaskStore,
	accounts taskqueue.AccountPool,
	blobs taskqueue.BlobStore,
	publisher taskqueue.Publisher,
	hasher Hasher,
	clock taskqueue.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = "results"
	}
	return &Executor{
		tasks:      tasks,
		accounts:   accounts,
		blobs:      blobs,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		strategies: make(map[taskqueue.TaskType]Strategy),
		cfg:        cfg,
		logger:     logger.Named("executor"),
	}
}

// Register binds a strategy to a task type, replacing any previous one.
func (e *Executor) Register(taskType taskqueue.TaskType, strategy Strategy) {
	e.strategies[taskType] = strategy
}

// Registered reports whether taskType has a strategy.
func (e *Executor) Registered(taskType taskqueue.TaskType) bool {
	_, ok := e.strategies[taskType]
	return ok
}

// Execute runs task with account and records the outcome. It never returns an
// error: every failure ends up on the task record or in the log.
func (e *Executor) Execute(ctx context.Context, task taskqueue.TaskRecord, account taskqueue.LoginAccount) {
	metrics.IncExecutions()
	defer metrics.DecExecutions()
	start := time.Now()

	logger := e.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.Type)),
		zap.String("account_id", account.ID),
	)
	current := task
	report, crawlErr := e.crawl(ctx, &current, account, logger)
	outcome := Classify(crawlErr)

	// Status writes must land even when ctx was canceled for shutdown.
	writeCtx := context.WithoutCancel(ctx)
	e.updateAccount(writeCtx, account, outcome, logger)
	e.finishTask(writeCtx, current, report, outcome, crawlErr, logger)

	metrics.ObserveTaskFinished(string(task.Type), string(outcome), time.Since(start))
}

func (e *Executor) crawl(
	ctx context.Context,
	current *taskqueue.TaskRecord,
	account taskqueue.LoginAccount,
	logger *zap.Logger,
) (report Report, err error) {
	strategy, ok := e.strategies[current.Type]
	if !ok {
		return Report{}, fmt.Errorf("no strategy registered for task type %q", current.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("strategy panicked", zap.Any("panic", r))
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	commit := func(ctx context.Context, token string) error {
		next, err := taskqueue.Checkpoint(*current, current.Version, token, e.clock.Now())
		if err != nil {
			return err
		}
		saved, err := e.tasks.CompareAndSwap(ctx, next, current.Version)
		if err != nil {
			return err
		}
		*current = saved
		logger.Debug("checkpoint committed", zap.Int64("version", saved.Version))
		return nil
	}
	return strategy.Crawl(ctx, NewJob(*current, account, commit))
}

// updateAccount applies the outcome's account transition. A lost race means
// another writer moved the account first; the transition is recomputed from
// the stored status so a stronger signal such as a ban is never dropped.
func (e *Executor) updateAccount(
	ctx context.Context,
	account taskqueue.LoginAccount,
	outcome taskqueue.Outcome,
	logger *zap.Logger,
) {
	from := account.Status
	for attempt := 1; ; attempt++ {
		next, changed := taskqueue.NextAccountStatus(from, outcome)
		if !changed {
			if from != account.Status {
				logger.Debug("account already moved past outcome", zap.String("status", string(from)))
			}
			return
		}
		_, err := e.accounts.SetStatus(ctx, account.ID, from, next, e.clock.Now())
		if err == nil {
			metrics.ObserveAccountTransition(string(next))
			logger.Info("account status changed",
				zap.String("from", string(from)),
				zap.String("status", string(next)),
				zap.String("outcome", string(outcome)),
			)
			return
		}
		if !errors.Is(err, taskqueue.ErrRaceLost) || attempt >= maxAccountAttempts {
			logger.Error("account status update failed", zap.String("status", string(next)), zap.Error(err))
			return
		}
		logger.Debug("account status changed concurrently; reloading", zap.Int("attempt", attempt), zap.Error(err))
		stored, err := e.accounts.Get(ctx, account.ID)
		if err != nil {
			logger.Error("account reload failed", zap.Error(err))
			return
		}
		from = stored.Status
	}
}

func (e *Executor) finishTask(
	ctx context.Context,
	current taskqueue.TaskRecord,
	report Report,
	outcome taskqueue.Outcome,
	crawlErr error,
	logger *zap.Logger,
) {
	now := e.clock.Now()
	var (
		next taskqueue.TaskRecord
		err  error
	)
	switch {
	case outcome == taskqueue.OutcomeOK:
		summary, storeErr := e.storeResult(ctx, current, report)
		if storeErr != nil {
			next, err = taskqueue.Fail(current, current.Version, storeErr.Error(), now)
			break
		}
		next, err = taskqueue.Complete(current, current.Version, summary, now)
	case pauses(outcome):
		next, err = taskqueue.Pause(current, current.Version, current.NextPageToken, crawlErr.Error(), now)
	default:
		next, err = taskqueue.Fail(current, current.Version, crawlErr.Error(), now)
	}
	if err != nil {
		logger.Error("task transition rejected", zap.String("outcome", string(outcome)), zap.Error(err))
		return
	}

	saved, err := e.tasks.CompareAndSwap(ctx, next, current.Version)
	if err != nil {
		if errors.Is(err, taskqueue.ErrRaceLost) {
			logger.Debug("task changed concurrently; result dropped", zap.Error(err))
			return
		}
		logger.Error("task status write failed", zap.String("status", string(next.Status)), zap.Error(err))
		return
	}
	logger.Info("task finished",
		zap.String("status", string(saved.Status)),
		zap.String("outcome", string(outcome)),
		zap.String("next_page_token", saved.NextPageToken),
	)
	if saved.Status.IsTerminal() {
		e.publish(ctx, saved, logger)
	}
}

type resultSummary struct {
	Items   int    `json:"items"`
	BlobURI string `json:"blob_uri"`
	SHA256  string `json:"sha256"`
}

func (e *Executor) storeResult(ctx context.Context, task taskqueue.TaskRecord, report Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	summary := resultSummary{Items: report.Collected}
	if e.hasher != nil {
		if summary.SHA256, err = e.hasher.Hash(body); err != nil {
			return "", fmt.Errorf("hash report: %w", err)
		}
	}
	if e.blobs != nil {
		name := path.Join(strings.Trim(e.cfg.ResultPrefix, "/"), strings.ToLower(string(task.Type)), task.ID+".json")
		if summary.BlobURI, err = e.blobs.PutObject(ctx, name, "application/json", bytes.NewReader(body)); err != nil {
			return "", fmt.Errorf("store result: %w", err)
		}
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	return string(out), nil
}

func (e *Executor) publish(ctx context.Context, task taskqueue.TaskRecord, logger *zap.Logger) {
	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	notice := Notice{
		TaskID: task.ID,
		Status: task.Status,
		Target: task.TargetName,
		Type:   task.Type,
		Result: task.Result,
		Error:  task.ErrorMessage,
	}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, notice)
	if err != nil {
		logger.Warn("completion notice not published", zap.Error(err))
		return
	}
	logger.Debug("completion notice published", zap.String("message_id", id))
}
