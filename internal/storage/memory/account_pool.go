package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// AccountPool keeps login accounts in memory.
type AccountPool struct {
	mu       sync.RWMutex
	accounts map[string]taskqueue.LoginAccount
	now      func() time.Time
}

// NewAccountPool constructs an empty AccountPool. A nil clock falls back to
// time.Now.
func NewAccountPool(clock taskqueue.Clock) *AccountPool {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &AccountPool{
		accounts: make(map[string]taskqueue.LoginAccount),
		now:      now,
	}
}

// Create stores a provisioned account.
func (p *AccountPool) Create(_ context.Context, account taskqueue.LoginAccount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	p.accounts[account.ID] = account
	return nil
}

// Get fetches an account by ID.
func (p *AccountPool) Get(_ context.Context, id string) (taskqueue.LoginAccount, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	account, ok := p.accounts[id]
	if !ok {
		return taskqueue.LoginAccount{}, fmt.Errorf("account %s: %w", id, taskqueue.ErrNotFound)
	}
	return account, nil
}

// List returns every account ordered by creation time, then ID.
func (p *AccountPool) List(_ context.Context) ([]taskqueue.LoginAccount, error) {
	p.mu.RLock()
	out := make([]taskqueue.LoginAccount, 0, len(p.accounts))
	for _, account := range p.accounts {
		out = append(out, account)
	}
	p.mu.RUnlock()
	sortAccounts(out)
	return out, nil
}

// FindFirstNormal returns the earliest-created NORMAL account.
func (p *AccountPool) FindFirstNormal(ctx context.Context) (taskqueue.LoginAccount, error) {
	accounts, err := p.List(ctx)
	if err != nil {
		return taskqueue.LoginAccount{}, err
	}
	for _, account := range accounts {
		if account.Status == taskqueue.AccountNormal {
			return account, nil
		}
	}
	return taskqueue.LoginAccount{}, taskqueue.ErrNoAccount
}

// SetStatus moves an account from -> to if it is still in from.
func (p *AccountPool) SetStatus(
	_ context.Context,
	id string,
	from, to taskqueue.AccountStatus,
	at time.Time,
) (taskqueue.LoginAccount, error) {
	if !taskqueue.CanTransitionAccount(from, to) {
		return taskqueue.LoginAccount{}, fmt.Errorf("%w: account %s -> %s", taskqueue.ErrInvalidTransition, from, to)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.accounts[id]
	if !ok {
		return taskqueue.LoginAccount{}, fmt.Errorf("account %s: %w", id, taskqueue.ErrNotFound)
	}
	if account.Status != from {
		return taskqueue.LoginAccount{}, fmt.Errorf("%w: account %s is %s, not %s",
			taskqueue.ErrRaceLost, id, account.Status, from)
	}
	account.Status = to
	account.StatusChangedAt = at
	p.accounts[id] = account
	return account, nil
}

// BulkRecover moves accounts in from whose status changed at or before
// threshold to status to.
func (p *AccountPool) BulkRecover(
	_ context.Context,
	threshold time.Time,
	from, to taskqueue.AccountStatus,
) (int64, error) {
	if !taskqueue.CanTransitionAccount(from, to) {
		return 0, fmt.Errorf("%w: account %s -> %s", taskqueue.ErrInvalidTransition, from, to)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	at := p.now()
	var changed int64
	for id, account := range p.accounts {
		if account.Status != from || account.StatusChangedAt.After(threshold) {
			continue
		}
		account.Status = to
		account.StatusChangedAt = at
		p.accounts[id] = account
		changed++
	}
	return changed, nil
}

func sortAccounts(accounts []taskqueue.LoginAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
}
