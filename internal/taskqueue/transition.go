package taskqueue

import "time"

var allowedTaskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending: {
		StatusInProgress: {},
	},
	StatusPaused: {
		StatusInProgress: {},
	},
	StatusInProgress: {
		StatusInProgress: {}, // checkpoint
		StatusCompleted:  {},
		StatusFailed:     {},
		StatusPaused:     {},
	},
}

// CanTransition reports whether the task state machine allows from -> to.
func CanTransition(from, to TaskStatus) bool {
	next, ok := allowedTaskTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition returns a copy of rec moved to status to.
//
// The copy carries Version+1 and ModifyTime=now. rec is never mutated. A
// mismatch between rec.Version and expectedVersion yields ErrRaceLost; a
// disallowed edge yields ErrInvalidTransition.
func Transition(rec TaskRecord, expectedVersion int64, to TaskStatus, now time.Time) (TaskRecord, error) {
	if rec.Version != expectedVersion {
		return TaskRecord{}, raceLost(rec.ID, expectedVersion, rec.Version)
	}
	if !CanTransition(rec.Status, to) {
		return TaskRecord{}, invalidTransition("task", rec.Status, to)
	}
	next := rec
	next.Status = to
	next.Version = rec.Version + 1
	next.ModifyTime = now
	switch to {
	case StatusInProgress:
		if rec.Status != StatusInProgress && next.StartTime == nil {
			next.StartTime = timePtr(now)
		}
	case StatusCompleted, StatusFailed:
		next.EndTime = timePtr(now)
	}
	return next, nil
}

// Claim moves a PENDING or PAUSED task to IN_PROGRESS. The resumption cursor
// is left untouched so the executor continues where the task paused.
func Claim(rec TaskRecord, expectedVersion int64, now time.Time) (TaskRecord, error) {
	if rec.Version != expectedVersion {
		return TaskRecord{}, raceLost(rec.ID, expectedVersion, rec.Version)
	}
	if rec.Status == StatusInProgress {
		return TaskRecord{}, invalidTransition("task", rec.Status, StatusInProgress)
	}
	next, err := Transition(rec, expectedVersion, StatusInProgress, now)
	if err != nil {
		return TaskRecord{}, err
	}
	next.ErrorMessage = ""
	return next, nil
}

// Complete moves an IN_PROGRESS task to COMPLETED with the given result and
// clears the resumption cursor.
func Complete(rec TaskRecord, expectedVersion int64, result string, now time.Time) (TaskRecord, error) {
	next, err := Transition(rec, expectedVersion, StatusCompleted, now)
	if err != nil {
		return TaskRecord{}, err
	}
	next.Result = result
	next.ErrorMessage = ""
	next.NextPageToken = ""
	return next, nil
}

// Fail moves an IN_PROGRESS task to FAILED and records the error message.
func Fail(rec TaskRecord, expectedVersion int64, errMsg string, now time.Time) (TaskRecord, error) {
	next, err := Transition(rec, expectedVersion, StatusFailed, now)
	if err != nil {
		return TaskRecord{}, err
	}
	next.ErrorMessage = errMsg
	return next, nil
}

// Pause moves an IN_PROGRESS task to PAUSED, storing cursor as the point to
// resume from. Callers pass the last committed cursor, not one that was never
// fully processed.
func Pause(rec TaskRecord, expectedVersion int64, cursor, reason string, now time.Time) (TaskRecord, error) {
	next, err := Transition(rec, expectedVersion, StatusPaused, now)
	if err != nil {
		return TaskRecord{}, err
	}
	next.NextPageToken = cursor
	next.ErrorMessage = reason
	return next, nil
}

// Checkpoint records a new resumption cursor on an IN_PROGRESS task.
func Checkpoint(rec TaskRecord, expectedVersion int64, cursor string, now time.Time) (TaskRecord, error) {
	if rec.Status != StatusInProgress {
		return TaskRecord{}, invalidTransition("task", rec.Status, StatusInProgress)
	}
	next, err := Transition(rec, expectedVersion, StatusInProgress, now)
	if err != nil {
		return TaskRecord{}, err
	}
	next.NextPageToken = cursor
	return next, nil
}

func timePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
