package executor

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// Classify maps a strategy error onto an execution outcome.
func Classify(err error) taskqueue.Outcome {
	switch {
	case err == nil:
		return taskqueue.OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrPageBudget):
		return taskqueue.OutcomeSuspended
	case errors.Is(err, crawl.ErrBanned):
		return taskqueue.OutcomeBanned
	case errors.Is(err, crawl.ErrThrottled):
		return taskqueue.OutcomeThrottled
	case errors.Is(err, crawl.ErrAnomalous):
		return taskqueue.OutcomeAnomalous
	default:
		return taskqueue.OutcomeFailed
	}
}

// pauses reports whether outcome leaves the task resumable.
func pauses(outcome taskqueue.Outcome) bool {
	switch outcome {
	case taskqueue.OutcomeThrottled, taskqueue.OutcomeAnomalous, taskqueue.OutcomeBanned, taskqueue.OutcomeSuspended:
		return true
	default:
		return false
	}
}
