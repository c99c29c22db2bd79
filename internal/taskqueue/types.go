package taskqueue

import "time"

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusPaused     TaskStatus = "PAUSED"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// TaskType selects the crawl operation a task performs.
type TaskType string

// Supported crawl operations. Each has exactly one executor strategy.
const (
	TypeFollowers TaskType = "FOLLOWERS"
	TypeFollowing TaskType = "FOLLOWING"
	TypeMedia     TaskType = "MEDIA"
	TypeProfile   TaskType = "PROFILE"
)

// TaskTypes lists every task type in a stable order.
var TaskTypes = []TaskType{TypeFollowers, TypeFollowing, TypeMedia, TypeProfile}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TaskRecord is a unit of scheduled crawl work.
type TaskRecord struct {
	ID            string     `json:"id"`
	TargetName    string     `json:"target_name"`
	Type          TaskType   `json:"task_type"`
	NeedsLogin    bool       `json:"needs_login"`
	Status        TaskStatus `json:"status"`
	SubmitTime    time.Time  `json:"submit_time"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	ModifyTime    time.Time  `json:"modify_time"`
	Result        string     `json:"result,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	NextPageToken string     `json:"next_page_token,omitempty"` // cleared on COMPLETED
	Version       int64      `json:"version"`
}

// NewTask builds a PENDING task at version 0.
func NewTask(id, target string, taskType TaskType, needsLogin bool, now time.Time) TaskRecord {
	return TaskRecord{
		ID:         id,
		TargetName: target,
		Type:       taskType,
		NeedsLogin: needsLogin,
		Status:     StatusPending,
		SubmitTime: now,
		ModifyTime: now,
	}
}

// AccountStatus represents the usability of a login account.
type AccountStatus string

// Account status values persisted in the account pool.
const (
	AccountNormal    AccountStatus = "NORMAL"
	AccountExhausted AccountStatus = "EXHAUSTED"
	AccountDeviant   AccountStatus = "DEVIANT"
	AccountBlocked   AccountStatus = "BLOCKED"
)

// Valid reports whether s is one of the known account statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountNormal, AccountExhausted, AccountDeviant, AccountBlocked:
		return true
	default:
		return false
	}
}

// LoginAccount is an authenticated session used for login-bound crawling.
type LoginAccount struct {
	ID              string        `json:"id"`
	Username        string        `json:"username"`
	Credential      string        `json:"-"`
	Status          AccountStatus `json:"status"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Outcome classifies how a crawl ended from the account's point of view.
type Outcome string

// Crawl outcomes reported by the executor.
const (
	OutcomeOK        Outcome = "ok"
	OutcomeThrottled Outcome = "throttled"
	OutcomeAnomalous Outcome = "anomalous"
	OutcomeBanned    Outcome = "banned"
	OutcomeSuspended Outcome = "suspended"
	OutcomeFailed    Outcome = "failed"
)
