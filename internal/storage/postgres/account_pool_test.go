package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

var accountCols = []string{"id", "username", "credential", "status", "status_changed_at", "created_at"}

func newAccountPool(t *testing.T, now time.Time) (pgxmock.PgxPoolIface, *AccountPool) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	pool, err := NewAccountPool(mock, "", fixedClock{now})
	require.NoError(t, err)
	return mock, pool
}

func TestAccountPoolFindFirstNormal(t *testing.T) {
	t.Parallel()

	mock, pool := newAccountPool(t, later)
	mock.ExpectQuery("SELECT (.+) FROM login_accounts").
		WithArgs("NORMAL").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow("acct-1", "crawler01", "sessionid=abc", "NORMAL", submitted, submitted))

	got, err := pool.FindFirstNormal(context.Background())
	require.NoError(t, err)
	require.Equal(t, "acct-1", got.ID)
	require.Equal(t, taskqueue.AccountNormal, got.Status)
	require.Equal(t, "sessionid=abc", got.Credential)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountPoolFindFirstNormalEmpty(t *testing.T) {
	t.Parallel()

	mock, pool := newAccountPool(t, later)
	mock.ExpectQuery("SELECT (.+) FROM login_accounts").
		WithArgs("NORMAL").
		WillReturnError(pgx.ErrNoRows)

	_, err := pool.FindFirstNormal(context.Background())
	require.ErrorIs(t, err, taskqueue.ErrNoAccount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountPoolSetStatus(t *testing.T) {
	t.Parallel()

	mock, pool := newAccountPool(t, later)
	mock.ExpectQuery("UPDATE login_accounts").
		WithArgs("acct-1", "NORMAL", "EXHAUSTED", later).
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow("acct-1", "crawler01", "", "EXHAUSTED", later, submitted))

	got, err := pool.SetStatus(context.Background(), "acct-1",
		taskqueue.AccountNormal, taskqueue.AccountExhausted, later)
	require.NoError(t, err)
	require.Equal(t, taskqueue.AccountExhausted, got.Status)
	require.Equal(t, later, got.StatusChangedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountPoolSetStatusRaceLost(t *testing.T) {
	t.Parallel()

	mock, pool := newAccountPool(t, later)
	mock.ExpectQuery("UPDATE login_accounts").
		WithArgs("acct-1", "NORMAL", "DEVIANT", later).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM login_accounts").
		WithArgs("acct-1").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow("acct-1", "crawler01", "", "BLOCKED", submitted, submitted))

	_, err := pool.SetStatus(context.Background(), "acct-1",
		taskqueue.AccountNormal, taskqueue.AccountDeviant, later)
	require.ErrorIs(t, err, taskqueue.ErrRaceLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountPoolSetStatusRejectsInvalidEdge(t *testing.T) {
	t.Parallel()

	_, pool := newAccountPool(t, later)
	_, err := pool.SetStatus(context.Background(), "acct-1",
		taskqueue.AccountBlocked, taskqueue.AccountNormal, later)
	require.ErrorIs(t, err, taskqueue.ErrInvalidTransition)
}

func TestAccountPoolBulkRecoverReturnsCount(t *testing.T) {
	t.Parallel()

	now := submitted.Add(2 * time.Hour)
	threshold := now.Add(-time.Hour)
	mock, pool := newAccountPool(t, now)
	mock.ExpectExec("UPDATE login_accounts").
		WithArgs("NORMAL", now, "EXHAUSTED", threshold).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := pool.BulkRecover(context.Background(), threshold, taskqueue.AccountExhausted, taskqueue.AccountNormal)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_tasks").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_tasks_status_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS login_accounts").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS login_accounts_status_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, Config{}))
	require.NoError(t, mock.ExpectationsWereMet())
}
