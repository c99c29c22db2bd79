package taskqueue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 2, 17, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func TestClaimSetsStartTimeAndBumpsVersion(t *testing.T) {
	t.Parallel()

	rec := NewTask("task-1", "alice", TypeFollowers, true, t0)

	next, err := Claim(rec, 0, t1)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, next.Status)
	require.Equal(t, int64(1), next.Version)
	require.NotNil(t, next.StartTime)
	require.Equal(t, t1, *next.StartTime)
	require.Equal(t, t1, next.ModifyTime)

	require.Equal(t, StatusPending, rec.Status, "input record must not be mutated")
	require.Equal(t, int64(0), rec.Version)
}

func TestClaimFromPausedKeepsCursorAndStartTime(t *testing.T) {
	t.Parallel()

	started := t0.Add(-time.Hour)
	rec := TaskRecord{
		ID:            "task-2",
		Status:        StatusPaused,
		StartTime:     &started,
		NextPageToken: "cursor-7",
		ErrorMessage:  "throttled",
		Version:       4,
	}

	next, err := Claim(rec, 4, t1)
	require.NoError(t, err)
	require.Equal(t, "cursor-7", next.NextPageToken)
	require.Equal(t, started, *next.StartTime)
	require.Empty(t, next.ErrorMessage)
	require.Equal(t, int64(5), next.Version)
}

func TestTransitionRejectsVersionMismatch(t *testing.T) {
	t.Parallel()

	rec := NewTask("task-3", "bob", TypeMedia, true, t0)
	rec.Version = 2

	_, err := Claim(rec, 1, t1)
	require.ErrorIs(t, err, ErrRaceLost)
}

func TestTransitionRejectsDisallowedEdges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from TaskStatus
		to   TaskStatus
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusPaused},
		{StatusPaused, StatusFailed},
		{StatusCompleted, StatusInProgress},
		{StatusFailed, StatusInProgress},
		{StatusFailed, StatusPending},
	}
	for _, tc := range cases {
		rec := TaskRecord{ID: "t", Status: tc.from}
		_, err := Transition(rec, 0, tc.to, t1)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestClaimRejectsInProgress(t *testing.T) {
	t.Parallel()

	rec := TaskRecord{ID: "t", Status: StatusInProgress, Version: 3}
	_, err := Claim(rec, 3, t1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteAndFailSetEndTime(t *testing.T) {
	t.Parallel()

	running := TaskRecord{ID: "t", Status: StatusInProgress, NextPageToken: "c=c1&n=2", Version: 1}

	done, err := Complete(running, 1, `{"items":3}`, t1)
	require.NoError(t, err)
	require.Empty(t, done.NextPageToken)
	require.Equal(t, StatusCompleted, done.Status)
	require.Equal(t, `{"items":3}`, done.Result)
	require.NotNil(t, done.EndTime)
	require.Equal(t, int64(2), done.Version)

	failed, err := Fail(running, 1, "boom", t1)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "boom", failed.ErrorMessage)
	require.Equal(t, "c=c1&n=2", failed.NextPageToken, "failed tasks keep the cursor they stopped at")
	require.NotNil(t, failed.EndTime)
	require.Equal(t, int64(2), failed.Version)

	require.True(t, done.Status.IsTerminal())
	require.True(t, failed.Status.IsTerminal())
}

func TestPauseStoresCursor(t *testing.T) {
	t.Parallel()

	running := TaskRecord{ID: "t", Status: StatusInProgress, NextPageToken: "c1", Version: 3}

	paused, err := Pause(running, 3, "c1", "throttled", t1)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)
	require.Equal(t, "c1", paused.NextPageToken)
	require.Equal(t, "throttled", paused.ErrorMessage)
	require.Nil(t, paused.EndTime)
	require.Equal(t, int64(4), paused.Version)
}

func TestCheckpointOnlyWhileRunning(t *testing.T) {
	t.Parallel()

	running := TaskRecord{ID: "t", Status: StatusInProgress, Version: 1}
	next, err := Checkpoint(running, 1, "c2", t1)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, next.Status)
	require.Equal(t, "c2", next.NextPageToken)
	require.Equal(t, int64(2), next.Version)

	_, err = Checkpoint(TaskRecord{ID: "t", Status: StatusPaused}, 0, "c3", t1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEveryAllowedTransitionBumpsVersionByOne(t *testing.T) {
	t.Parallel()

	for from, targets := range allowedTaskTransitions {
		for to := range targets {
			rec := TaskRecord{ID: "t", Status: from, Version: 7}
			next, err := Transition(rec, 7, to, t1)
			require.NoError(t, err, "%s -> %s", from, to)
			require.Equal(t, int64(8), next.Version, "%s -> %s", from, to)
			require.Equal(t, t1, next.ModifyTime)
		}
	}
}
