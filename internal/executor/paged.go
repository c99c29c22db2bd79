package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// ErrPageBudget ends a run that fetched MaxPages pages while the endpoint still
// had more. The task pauses at its last checkpoint and continues on a later
// claim.
var ErrPageBudget = errors.New("page budget for this run exhausted")

// PagedStrategy walks a paged endpoint, storing each page as a part blob and
// checkpointing after it. It stops early once the collected share of the
// profile's advertised total reaches Ratio.
type PagedStrategy struct {
	Kind     crawl.Kind
	Client   Crawler
	Blobs    taskqueue.BlobStore
	Prefix   string
	Ratio    float64
	MaxPages int
}

type pagePart struct {
	Offset int               `json:"offset"`
	Cursor string            `json:"cursor,omitempty"`
	Items  []json.RawMessage `json:"items"`
}

// Crawl resumes from the job's checkpoint and pages until the endpoint is
// exhausted, the close-enough threshold is met, or an error occurs.
func (s PagedStrategy) Crawl(ctx context.Context, job *Job) (Report, error) {
	task := job.Task
	profile, err := s.Client.FetchProfile(ctx, job.Account, task.TargetName)
	if err != nil {
		return Report{}, fmt.Errorf("fetch profile %s: %w", task.TargetName, err)
	}
	expected := profile.Total(s.Kind)

	token := decodeResumeToken(task.NextPageToken)
	report := Report{
		TaskID:    task.ID,
		Type:      string(task.Type),
		Target:    task.TargetName,
		Collected: token.Collected,
		Expected:  expected,
	}
	for _, offset := range token.Parts {
		report.Parts = append(report.Parts, s.partName(task, offset))
	}
	for pages := 0; s.MaxPages <= 0 || pages < s.MaxPages; pages++ {
		page, err := s.Client.FetchPage(ctx, job.Account, s.Kind, task.TargetName, token.Cursor)
		if err != nil {
			return report, fmt.Errorf("fetch %s page for %s: %w", s.Kind, task.TargetName, err)
		}
		parts := token.Parts
		if len(page.Items) > 0 {
			name, err := s.storePart(ctx, task, token, page)
			if err != nil {
				return report, err
			}
			report.Parts = append(report.Parts, name)
			parts = append(append([]int(nil), parts...), token.Collected)
		}
		token = resumeToken{Cursor: page.NextCursor, Collected: token.Collected + len(page.Items), Parts: parts}
		report.Collected = token.Collected
		if !page.HasMore {
			return report, nil
		}
		if err := job.Checkpoint(ctx, token.encode()); err != nil {
			return report, fmt.Errorf("checkpoint %s: %w", task.ID, err)
		}
		done, err := taskqueue.CloseEnough(report.Collected, expected, s.Ratio)
		if err != nil {
			return report, fmt.Errorf("close-enough check for %s: %w", task.TargetName, err)
		}
		if done {
			report.StoppedEarly = true
			return report, nil
		}
	}
	return report, fmt.Errorf("%w after %d pages", ErrPageBudget, s.MaxPages)
}

func (s PagedStrategy) partName(task taskqueue.TaskRecord, offset int) string {
	return path.Join(strings.Trim(s.Prefix, "/"), strings.ToLower(string(task.Type)), task.ID,
		fmt.Sprintf("part-%08d.json", offset))
}

// storePart writes one page and returns its object name.
func (s PagedStrategy) storePart(ctx context.Context, task taskqueue.TaskRecord, token resumeToken, page crawl.Page) (string, error) {
	body, err := json.Marshal(pagePart{Offset: token.Collected, Cursor: token.Cursor, Items: page.Items})
	if err != nil {
		return "", fmt.Errorf("marshal page: %w", err)
	}
	name := s.partName(task, token.Collected)
	if _, err := s.Blobs.PutObject(ctx, name, "application/json", bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("store page part: %w", err)
	}
	return name, nil
}
