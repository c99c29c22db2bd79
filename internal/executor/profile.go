package executor

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// ProfileStrategy records a target's public counters.
type ProfileStrategy struct {
	Client Crawler
}

// Crawl fetches the target's profile page once.
func (s ProfileStrategy) Crawl(ctx context.Context, job *Job) (Report, error) {
	profile, err := s.Client.FetchProfile(ctx, job.Account, job.Task.TargetName)
	if err != nil {
		return Report{}, fmt.Errorf("fetch profile %s: %w", job.Task.TargetName, err)
	}
	return Report{
		TaskID:    job.Task.ID,
		Type:      string(taskqueue.TypeProfile),
		Target:    job.Task.TargetName,
		Collected: 1,
		Profile:   &profile,
	}, nil
}
