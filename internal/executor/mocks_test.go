package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) FetchPage(
	ctx context.Context,
	account taskqueue.LoginAccount,
	kind crawl.Kind,
	username, cursor string,
) (crawl.Page, error) {
	args := m.Called(ctx, account, kind, username, cursor)
	return args.Get(0).(crawl.Page), args.Error(1)
}

func (m *mockCrawler) FetchProfile(ctx context.Context, account taskqueue.LoginAccount, username string) (crawl.Profile, error) {
	args := m.Called(ctx, account, username)
	return args.Get(0).(crawl.Profile), args.Error(1)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var epoch = time.Date(2024, 2, 17, 9, 0, 0, 0, time.UTC)

func items(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, _ := json.Marshal(map[string]string{"username": v})
		out = append(out, raw)
	}
	return out
}
