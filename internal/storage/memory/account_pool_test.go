package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

func seedAccount(t *testing.T, pool *AccountPool, id string, status taskqueue.AccountStatus, changed, created time.Time) {
	t.Helper()
	require.NoError(t, pool.Create(context.Background(), taskqueue.LoginAccount{
		ID:              id,
		Username:        "user-" + id,
		Status:          status,
		StatusChangedAt: changed,
		CreatedAt:       created,
	}))
}

func TestFindFirstNormalUsesCreationOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := NewAccountPool(fixedClock{epoch})

	_, err := pool.FindFirstNormal(ctx)
	require.ErrorIs(t, err, taskqueue.ErrNoAccount)

	seedAccount(t, pool, "b", taskqueue.AccountNormal, epoch, epoch.Add(2*time.Hour))
	seedAccount(t, pool, "a", taskqueue.AccountExhausted, epoch, epoch)
	seedAccount(t, pool, "c", taskqueue.AccountNormal, epoch, epoch.Add(time.Hour))

	got, err := pool.FindFirstNormal(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", got.ID)
}

func TestSetStatusIsConditional(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := NewAccountPool(fixedClock{epoch})
	seedAccount(t, pool, "a", taskqueue.AccountNormal, epoch, epoch)

	at := epoch.Add(time.Minute)
	got, err := pool.SetStatus(ctx, "a", taskqueue.AccountNormal, taskqueue.AccountExhausted, at)
	require.NoError(t, err)
	require.Equal(t, taskqueue.AccountExhausted, got.Status)
	require.Equal(t, at, got.StatusChangedAt)

	_, err = pool.SetStatus(ctx, "a", taskqueue.AccountNormal, taskqueue.AccountDeviant, at)
	require.ErrorIs(t, err, taskqueue.ErrRaceLost)

	_, err = pool.SetStatus(ctx, "a", taskqueue.AccountBlocked, taskqueue.AccountNormal, at)
	require.ErrorIs(t, err, taskqueue.ErrInvalidTransition)

	_, err = pool.SetStatus(ctx, "missing", taskqueue.AccountNormal, taskqueue.AccountBlocked, at)
	require.ErrorIs(t, err, taskqueue.ErrNotFound)
}

func TestBulkRecoverThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := epoch.Add(3 * time.Hour)
	pool := NewAccountPool(fixedClock{now})
	threshold := now.Add(-time.Hour)

	seedAccount(t, pool, "old", taskqueue.AccountExhausted, threshold.Add(-time.Minute), epoch)
	seedAccount(t, pool, "edge", taskqueue.AccountExhausted, threshold, epoch)
	seedAccount(t, pool, "fresh", taskqueue.AccountExhausted, threshold.Add(time.Second), epoch)
	seedAccount(t, pool, "deviant", taskqueue.AccountDeviant, epoch, epoch)

	n, err := pool.BulkRecover(ctx, threshold, taskqueue.AccountExhausted, taskqueue.AccountNormal)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	for id, want := range map[string]taskqueue.AccountStatus{
		"old":     taskqueue.AccountNormal,
		"edge":    taskqueue.AccountNormal,
		"fresh":   taskqueue.AccountExhausted,
		"deviant": taskqueue.AccountDeviant,
	} {
		got, err := pool.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, got.Status, id)
	}
	recovered, err := pool.Get(ctx, "edge")
	require.NoError(t, err)
	require.Equal(t, now, recovered.StatusChangedAt)

	n, err = pool.BulkRecover(ctx, threshold, taskqueue.AccountExhausted, taskqueue.AccountNormal)
	require.NoError(t, err)
	require.Zero(t, n)
}
