package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

const accountColumns = `id, username, credential, status, status_changed_at, created_at`

// AccountPool stores login accounts in Postgres.
type AccountPool struct {
	db    DB
	table string
	clock taskqueue.Clock
}

// NewAccountPool constructs an AccountPool over db.
func NewAccountPool(db DB, table string, clock taskqueue.Clock) (*AccountPool, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	name, err := tableName(table, defaultAccountTable)
	if err != nil {
		return nil, err
	}
	return &AccountPool{db: db, table: name, clock: clock}, nil
}

// Create inserts a provisioned account.
func (p *AccountPool) Create(ctx context.Context, account taskqueue.LoginAccount) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6)`, p.table, accountColumns)
	_, err := p.db.Exec(ctx, query,
		account.ID,
		account.Username,
		account.Credential,
		string(account.Status),
		account.StatusChangedAt,
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Get loads one account.
func (p *AccountPool) Get(ctx context.Context, id string) (taskqueue.LoginAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, accountColumns, p.table)
	account, err := scanAccount(p.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return taskqueue.LoginAccount{}, fmt.Errorf("account %s: %w", id, taskqueue.ErrNotFound)
		}
		return taskqueue.LoginAccount{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// List returns every account ordered by creation time.
func (p *AccountPool) List(ctx context.Context) ([]taskqueue.LoginAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, accountColumns, p.table)
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []taskqueue.LoginAccount{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// FindFirstNormal returns the earliest-created NORMAL account.
func (p *AccountPool) FindFirstNormal(ctx context.Context) (taskqueue.LoginAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at, id LIMIT 1`,
		accountColumns, p.table)
	account, err := scanAccount(p.db.QueryRow(ctx, query, string(taskqueue.AccountNormal)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return taskqueue.LoginAccount{}, taskqueue.ErrNoAccount
		}
		return taskqueue.LoginAccount{}, fmt.Errorf("find normal account: %w", err)
	}
	return account, nil
}

// SetStatus moves one account from -> to when it is still in from.
func (p *AccountPool) SetStatus(
	ctx context.Context,
	id string,
	from, to taskqueue.AccountStatus,
	at time.Time,
) (taskqueue.LoginAccount, error) {
	if !taskqueue.CanTransitionAccount(from, to) {
		return taskqueue.LoginAccount{}, fmt.Errorf("%w: account %s -> %s", taskqueue.ErrInvalidTransition, from, to)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $3, status_changed_at = $4
WHERE id = $1 AND status = $2
RETURNING %s`, p.table, accountColumns)
	account, err := scanAccount(p.db.QueryRow(ctx, query, id, string(from), string(to), at))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return taskqueue.LoginAccount{}, fmt.Errorf("update account: %w", err)
	}
	current, getErr := p.Get(ctx, id)
	if getErr != nil {
		return taskqueue.LoginAccount{}, getErr
	}
	return taskqueue.LoginAccount{}, fmt.Errorf("%w: account %s is %s, not %s",
		taskqueue.ErrRaceLost, id, current.Status, from)
}

// BulkRecover moves every account in from whose status_changed_at is at or
// before threshold to status to.
func (p *AccountPool) BulkRecover(
	ctx context.Context,
	threshold time.Time,
	from, to taskqueue.AccountStatus,
) (int64, error) {
	if !taskqueue.CanTransitionAccount(from, to) {
		return 0, fmt.Errorf("%w: account %s -> %s", taskqueue.ErrInvalidTransition, from, to)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, status_changed_at = $2
WHERE status = $3 AND status_changed_at <= $4`, p.table)
	tag, err := p.db.Exec(ctx, query, string(to), p.clock.Now(), string(from), threshold)
	if err != nil {
		return 0, fmt.Errorf("recover accounts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAccount(row pgx.Row) (taskqueue.LoginAccount, error) {
	var (
		account taskqueue.LoginAccount
		status  string
	)
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Credential,
		&status,
		&account.StatusChangedAt,
		&account.CreatedAt,
	)
	if err != nil {
		return taskqueue.LoginAccount{}, err
	}
	account.Status = taskqueue.AccountStatus(status)
	return account, nil
}
