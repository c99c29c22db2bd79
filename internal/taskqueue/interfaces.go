package taskqueue

import (
	"context"
	"io"
	"time"
)

// TaskFilter narrows List results. Zero values mean "any".
type TaskFilter struct {
	Status TaskStatus
	Limit  int
	Offset int
}

// TaskStore persists task records with optimistic concurrency.
type TaskStore interface {
	// Create inserts a new task. The ID must be unique.
	Create(ctx context.Context, task TaskRecord) error
	// Get loads a task by ID or returns ErrNotFound.
	Get(ctx context.Context, id string) (TaskRecord, error)
	// List returns tasks ordered by ID.
	List(ctx context.Context, filter TaskFilter) ([]TaskRecord, error)
	// FindFirst returns the first task whose status is in statuses, honoring the
	// slice order as priority and ID order within a status. Returns ErrNoTask
	// when none match.
	FindFirst(ctx context.Context, statuses []TaskStatus, needsLogin bool) (TaskRecord, error)
	// ExistsWithStatus reports whether any task has the status and login flag.
	ExistsWithStatus(ctx context.Context, status TaskStatus, needsLogin bool) (bool, error)
	// TransitionStatus moves a task to status to if its stored version equals
	// expectedVersion. Returns the updated record or ErrRaceLost.
	TransitionStatus(ctx context.Context, id string, expectedVersion int64, to TaskStatus) (TaskRecord, error)
	// CompareAndSwap stores next if the stored version equals expectedVersion.
	// next must come from one of the pure transition functions.
	CompareAndSwap(ctx context.Context, next TaskRecord, expectedVersion int64) (TaskRecord, error)
}

// AccountPool selects and maintains login accounts.
type AccountPool interface {
	// Create inserts a provisioned account.
	Create(ctx context.Context, account LoginAccount) error
	// Get loads an account by ID or returns ErrNotFound.
	Get(ctx context.Context, id string) (LoginAccount, error)
	// List returns all accounts in selection order.
	List(ctx context.Context) ([]LoginAccount, error)
	// FindFirstNormal returns the earliest-created NORMAL account without
	// reserving it. Returns ErrNoAccount when none exist.
	FindFirstNormal(ctx context.Context) (LoginAccount, error)
	// SetStatus moves one account from -> to if it is still in from.
	SetStatus(ctx context.Context, id string, from, to AccountStatus, at time.Time) (LoginAccount, error)
	// BulkRecover moves every account in from whose last status change is at or
	// before threshold to status to, returning the number of rows changed.
	BulkRecover(ctx context.Context, threshold time.Time, from, to AccountStatus) (int64, error)
}

// Executor runs a claimed task with the selected account. Implementations own
// every status change after the claim; failures never propagate to the caller.
type Executor interface {
	Execute(ctx context.Context, task TaskRecord, account LoginAccount)
}

// BlobStore writes result payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
