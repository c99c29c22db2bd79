package taskqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTask signals that no eligible task exists. It is an expected condition.
	ErrNoTask = errors.New("no eligible task")
	// ErrNoAccount signals that no NORMAL login account is available. It is an expected condition.
	ErrNoAccount = errors.New("no usable login account")
	// ErrRaceLost signals a version (or status) mismatch on a conditional write.
	ErrRaceLost = errors.New("concurrent modification")
	// ErrInvalidTransition signals a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDivideByZero signals that an expected total of zero was supplied.
	ErrDivideByZero = errors.New("expected total is zero")
)

// IsExpectedEmpty reports whether err means "nothing to do" rather than a failure.
func IsExpectedEmpty(err error) bool {
	return errors.Is(err, ErrNoTask) || errors.Is(err, ErrNoAccount)
}

func invalidTransition(kind string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, kind, from, to)
}

func raceLost(id string, expected, actual int64) error {
	return fmt.Errorf("%w: task %s expected version %d, found %d", ErrRaceLost, id, expected, actual)
}
