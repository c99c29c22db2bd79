// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// TaskStore keeps task records in a map guarded by a mutex. Every conditional
// write checks the stored version under the write lock, so concurrent claims
// resolve to exactly one winner.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]taskqueue.TaskRecord
	now   func() time.Time
}

// NewTaskStore constructs a TaskStore. A nil clock falls back to time.Now.
func NewTaskStore(clock taskqueue.Clock) *TaskStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &TaskStore{
		tasks: make(map[string]taskqueue.TaskRecord),
		now:   now,
	}
}

// Create stores a new task.
func (s *TaskStore) Create(_ context.Context, task taskqueue.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// Get fetches a task by ID.
func (s *TaskStore) Get(_ context.Context, id string) (taskqueue.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return taskqueue.TaskRecord{}, fmt.Errorf("task %s: %w", id, taskqueue.ErrNotFound)
	}
	return task, nil
}

// List returns tasks ordered by ID.
func (s *TaskStore) List(_ context.Context, filter taskqueue.TaskFilter) ([]taskqueue.TaskRecord, error) {
	s.mu.RLock()
	out := make([]taskqueue.TaskRecord, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, task)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []taskqueue.TaskRecord{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindFirst returns the lowest-ID task in the first status of statuses that
// has any match.
func (s *TaskStore) FindFirst(
	_ context.Context,
	statuses []taskqueue.TaskStatus,
	needsLogin bool,
) (taskqueue.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range statuses {
		var (
			best  taskqueue.TaskRecord
			found bool
		)
		for _, task := range s.tasks {
			if task.Status != status || task.NeedsLogin != needsLogin {
				continue
			}
			if !found || task.ID < best.ID {
				best = task
				found = true
			}
		}
		if found {
			return best, nil
		}
	}
	return taskqueue.TaskRecord{}, taskqueue.ErrNoTask
}

// ExistsWithStatus reports whether any task matches status and needsLogin.
func (s *TaskStore) ExistsWithStatus(_ context.Context, status taskqueue.TaskStatus, needsLogin bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if task.Status == status && task.NeedsLogin == needsLogin {
			return true, nil
		}
	}
	return false, nil
}

// TransitionStatus applies the state machine to the stored record.
func (s *TaskStore) TransitionStatus(
	_ context.Context,
	id string,
	expectedVersion int64,
	to taskqueue.TaskStatus,
) (taskqueue.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return taskqueue.TaskRecord{}, fmt.Errorf("task %s: %w", id, taskqueue.ErrNotFound)
	}
	var (
		next taskqueue.TaskRecord
		err  error
	)
	if to == taskqueue.StatusInProgress && current.Status != taskqueue.StatusInProgress {
		next, err = taskqueue.Claim(current, expectedVersion, s.now())
	} else {
		next, err = taskqueue.Transition(current, expectedVersion, to, s.now())
	}
	if err != nil {
		return taskqueue.TaskRecord{}, err
	}
	s.tasks[id] = next
	return next, nil
}

// CompareAndSwap stores next when the stored version still equals
// expectedVersion.
func (s *TaskStore) CompareAndSwap(
	_ context.Context,
	next taskqueue.TaskRecord,
	expectedVersion int64,
) (taskqueue.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[next.ID]
	if !ok {
		return taskqueue.TaskRecord{}, fmt.Errorf("task %s: %w", next.ID, taskqueue.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return taskqueue.TaskRecord{}, fmt.Errorf("%w: task %s expected version %d, found %d",
			taskqueue.ErrRaceLost, next.ID, expectedVersion, current.Version)
	}
	if next.Version != expectedVersion+1 {
		return taskqueue.TaskRecord{}, fmt.Errorf("task %s: next version %d does not follow %d",
			next.ID, next.Version, expectedVersion)
	}
	s.tasks[next.ID] = next
	return next, nil
}
