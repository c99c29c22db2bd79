package executor

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// Strategy crawls one task type. Implementations return the crawl error
// unchanged so Classify can map it to an outcome.
type Strategy interface {
	Crawl(ctx context.Context, job *Job) (Report, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, job *Job) (Report, error)

// Crawl calls f.
func (f StrategyFunc) Crawl(ctx context.Context, job *Job) (Report, error) {
	return f(ctx, job)
}

// Crawler is the remote-service surface strategies need.
type Crawler interface {
	FetchPage(ctx context.Context, account taskqueue.LoginAccount, kind crawl.Kind, username, cursor string) (crawl.Page, error)
	FetchProfile(ctx context.Context, account taskqueue.LoginAccount, username string) (crawl.Profile, error)
}

// Job is the unit a strategy works on: the claimed task, the account to crawl
// with, and a way to commit progress.
type Job struct {
	Task    taskqueue.TaskRecord
	Account taskqueue.LoginAccount
	commit  func(ctx context.Context, token string) error
}

// NewJob builds a Job. commit may be nil, making Checkpoint a no-op.
func NewJob(task taskqueue.TaskRecord, account taskqueue.LoginAccount, commit func(context.Context, string) error) *Job {
	return &Job{Task: task, Account: account, commit: commit}
}

// Checkpoint durably records token as the task's resumption point.
func (j *Job) Checkpoint(ctx context.Context, token string) error {
	if j.commit == nil {
		j.Task.NextPageToken = token
		return nil
	}
	if err := j.commit(ctx, token); err != nil {
		return err
	}
	j.Task.NextPageToken = token
	return nil
}

// Report is what a strategy produced. It is serialized as the result blob.
type Report struct {
	TaskID       string          `json:"task_id"`
	Type         string          `json:"task_type"`
	Target       string          `json:"target"`
	Collected    int             `json:"collected"`
	Expected     int             `json:"expected,omitempty"`
	StoppedEarly bool            `json:"stopped_early,omitempty"`
	Parts        []string        `json:"parts,omitempty"` // blob store object names, oldest first
	Profile      *crawl.Profile  `json:"profile,omitempty"`
	Items        json.RawMessage `json:"items,omitempty"`
}

// resumeToken is the checkpoint payload for paged crawls: the remote cursor,
// how many items were already stored before it, and the offsets of the part
// blobs written so far.
type resumeToken struct {
	Cursor    string
	Collected int
	Parts     []int
}

func (t resumeToken) encode() string {
	if t.Cursor == "" && t.Collected == 0 && len(t.Parts) == 0 {
		return ""
	}
	v := url.Values{}
	v.Set("c", t.Cursor)
	v.Set("n", strconv.Itoa(t.Collected))
	for _, offset := range t.Parts {
		v.Add("p", strconv.Itoa(offset))
	}
	return v.Encode()
}

// decodeResumeToken accepts tokens written by encode. Anything else is taken
// as a bare remote cursor.
func decodeResumeToken(raw string) resumeToken {
	if raw == "" {
		return resumeToken{}
	}
	v, err := url.ParseQuery(raw)
	if err != nil || !v.Has("c") || !v.Has("n") {
		return resumeToken{Cursor: raw}
	}
	n, err := strconv.Atoi(v.Get("n"))
	if err != nil || n < 0 {
		n = 0
	}
	token := resumeToken{Cursor: v.Get("c"), Collected: n}
	for _, raw := range v["p"] {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 || offset > n {
			continue
		}
		token.Parts = append(token.Parts, offset)
	}
	return token
}
