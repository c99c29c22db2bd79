// Package crawl is the authenticated client for the remote service. It paces
// requests per login account and turns remote responses into the error
// classes the executor maps onto account status.
package crawl

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Request describes one GET against the remote service.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the raw result of a fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Fetcher performs a single request. Non-2xx statuses are returned as a
// Response, not an error.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Promoter decides whether a plain profile fetch should be repeated with the
// headless renderer.
type Promoter interface {
	ShouldRender(resp Response) bool
}

// Pacer blocks until the keyed caller may issue another request.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Kind names a paged endpoint.
type Kind string

// Paged endpoints exposed by the remote service.
const (
	KindFollowers Kind = "followers"
	KindFollowing Kind = "following"
	KindMedia     Kind = "media"
)

// Page is one page of a paged endpoint.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Profile holds the public counters scraped from a profile page.
type Profile struct {
	Username    string `json:"username"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	Posts       int    `json:"posts"`
	Description string `json:"description,omitempty"`
}

// Total returns the counter that bounds a paged crawl of kind.
func (p Profile) Total(kind Kind) int {
	switch kind {
	case KindFollowers:
		return p.Followers
	case KindFollowing:
		return p.Following
	case KindMedia:
		return p.Posts
	default:
		return 0
	}
}
