package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

const taskColumns = `id, target_name, task_type, needs_login, status, submit_time, start_time, end_time,
	modify_time, result, error_message, next_page_token, version`

// TaskStore persists crawl tasks in Postgres. Conditional writes compare the
// version column inside the UPDATE so the database arbitrates races.
type TaskStore struct {
	db    DB
	table string
	clock taskqueue.Clock
}

// NewTaskStore constructs a TaskStore over db.
func NewTaskStore(db DB, table string, clock taskqueue.Clock) (*TaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	name, err := tableName(table, defaultTaskTable)
	if err != nil {
		return nil, err
	}
	return &TaskStore{db: db, table: name, clock: clock}, nil
}

// Create inserts a new task row.
func (s *TaskStore) Create(ctx context.Context, task taskqueue.TaskRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.table, taskColumns)
	_, err := s.db.Exec(ctx, query,
		task.ID,
		task.TargetName,
		string(task.Type),
		task.NeedsLogin,
		string(task.Status),
		task.SubmitTime,
		task.StartTime,
		task.EndTime,
		task.ModifyTime,
		task.Result,
		task.ErrorMessage,
		task.NextPageToken,
		task.Version,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads one task.
func (s *TaskStore) Get(ctx context.Context, id string) (taskqueue.TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, s.table)
	task, err := scanTask(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return taskqueue.TaskRecord{}, fmt.Errorf("task %s: %w", id, taskqueue.ErrNotFound)
		}
		return taskqueue.TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks ordered by ID.
func (s *TaskStore) List(ctx context.Context, filter taskqueue.TaskFilter) ([]taskqueue.TaskRecord, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1 = '' OR status = $1)
ORDER BY id
LIMIT $2 OFFSET $3`, taskColumns, s.table)
	rows, err := s.db.Query(ctx, query, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []taskqueue.TaskRecord{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// FindFirst returns the first matching task, ranking by the position of its
// status in statuses and then by ID.
func (s *TaskStore) FindFirst(
	ctx context.Context,
	statuses []taskqueue.TaskStatus,
	needsLogin bool,
) (taskqueue.TaskRecord, error) {
	if len(statuses) == 0 {
		return taskqueue.TaskRecord{}, taskqueue.ErrNoTask
	}
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = ANY($1::text[]) AND needs_login = $2
ORDER BY array_position($1::text[], status), id
LIMIT 1`, taskColumns, s.table)
	task, err := scanTask(s.db.QueryRow(ctx, query, names, needsLogin))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return taskqueue.TaskRecord{}, taskqueue.ErrNoTask
		}
		return taskqueue.TaskRecord{}, fmt.Errorf("find first task: %w", err)
	}
	return task, nil
}

// ExistsWithStatus reports whether any task has status and needsLogin.
func (s *TaskStore) ExistsWithStatus(ctx context.Context, status taskqueue.TaskStatus, needsLogin bool) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE status = $1 AND needs_login = $2)`, s.table)
	var exists bool
	if err := s.db.QueryRow(ctx, query, string(status), needsLogin).Scan(&exists); err != nil {
		return false, fmt.Errorf("check task status: %w", err)
	}
	return exists, nil
}

// TransitionStatus loads the task, applies the state machine and writes the
// result back with a version check.
func (s *TaskStore) TransitionStatus(
	ctx context.Context,
	id string,
	expectedVersion int64,
	to taskqueue.TaskStatus,
) (taskqueue.TaskRecord, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return taskqueue.TaskRecord{}, err
	}
	now := s.clock.Now()
	var next taskqueue.TaskRecord
	if to == taskqueue.StatusInProgress && current.Status != taskqueue.StatusInProgress {
		next, err = taskqueue.Claim(current, expectedVersion, now)
	} else {
		next, err = taskqueue.Transition(current, expectedVersion, to, now)
	}
	if err != nil {
		return taskqueue.TaskRecord{}, err
	}
	return s.CompareAndSwap(ctx, next, expectedVersion)
}

// CompareAndSwap writes every mutable column of next if the stored version is
// still expectedVersion.
func (s *TaskStore) CompareAndSwap(
	ctx context.Context,
	next taskqueue.TaskRecord,
	expectedVersion int64,
) (taskqueue.TaskRecord, error) {
	if next.Version != expectedVersion+1 {
		return taskqueue.TaskRecord{}, fmt.Errorf("task %s: next version %d does not follow %d",
			next.ID, next.Version, expectedVersion)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	start_time = $3,
	end_time = $4,
	modify_time = $5,
	result = $6,
	error_message = $7,
	next_page_token = $8,
	version = $9
WHERE id = $1 AND version = $10`, s.table)
	tag, err := s.db.Exec(ctx, query,
		next.ID,
		string(next.Status),
		next.StartTime,
		next.EndTime,
		next.ModifyTime,
		next.Result,
		next.ErrorMessage,
		next.NextPageToken,
		next.Version,
		expectedVersion,
	)
	if err != nil {
		return taskqueue.TaskRecord{}, fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskqueue.TaskRecord{}, fmt.Errorf("%w: task %s at version %d",
			taskqueue.ErrRaceLost, next.ID, expectedVersion)
	}
	return next, nil
}

func scanTask(row pgx.Row) (taskqueue.TaskRecord, error) {
	var (
		task       taskqueue.TaskRecord
		taskType   string
		status     string
		start, end *time.Time
	)
	err := row.Scan(
		&task.ID,
		&task.TargetName,
		&taskType,
		&task.NeedsLogin,
		&status,
		&task.SubmitTime,
		&start,
		&end,
		&task.ModifyTime,
		&task.Result,
		&task.ErrorMessage,
		&task.NextPageToken,
		&task.Version,
	)
	if err != nil {
		return taskqueue.TaskRecord{}, err
	}
	task.Type = taskqueue.TaskType(taskType)
	task.Status = taskqueue.TaskStatus(status)
	task.StartTime = start
	task.EndTime = end
	return task, nil
}
