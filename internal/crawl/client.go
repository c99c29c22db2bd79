package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/metrics"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

// Config controls endpoint layout and request shape.
type Config struct {
	BaseURL        string
	PageSize       int
	UserAgent      string
	RenderProfiles bool
}

// Client issues authenticated requests on behalf of a login account.
type Client struct {
	cfg      Config
	base     *url.URL
	fetcher  Fetcher
	renderer Fetcher
	promoter Promoter
	pacer    Pacer
	logger   *zap.Logger
}

// NewClient validates cfg and builds a Client. renderer may be nil, in which
// case profiles are always fetched with fetcher.
func NewClient(cfg Config, fetcher Fetcher, renderer Fetcher, pacer Pacer, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid crawl base url %q", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		base:     base,
		fetcher:  fetcher,
		renderer: renderer,
		pacer:    pacer,
		logger:   logger.Named("crawl"),
	}, nil
}

// PromoteWith makes FetchProfile re-fetch plain responses through the renderer
// when p asks for it. It has no effect without a renderer.
func (c *Client) PromoteWith(p Promoter) *Client {
	c.promoter = p
	return c
}

// PageURL builds the paged endpoint URL for kind.
func (c *Client) PageURL(kind Kind, username, cursor string) string {
	u := *c.base
	u.Path = u.Path + "/api/" + string(kind)
	q := url.Values{}
	q.Set("username", username)
	q.Set("count", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ProfileURL builds the public profile URL for username.
func (c *Client) ProfileURL(username string) string {
	u := *c.base
	u.Path = u.Path + "/" + url.PathEscape(username) + "/"
	return u.String()
}

// FetchPage loads one page of kind for username, starting at cursor.
func (c *Client) FetchPage(
	ctx context.Context,
	account taskqueue.LoginAccount,
	kind Kind,
	username, cursor string,
) (Page, error) {
	target := c.PageURL(kind, username, cursor)
	resp, err := c.do(ctx, c.fetcher, account, target, "application/json")
	if err != nil {
		metrics.ObservePage(string(kind), resultLabel(err))
		return Page{}, err
	}
	page, err := decodePage(resp)
	metrics.ObservePage(string(kind), resultLabel(err))
	if err != nil {
		return Page{}, err
	}
	c.logger.Debug("page fetched",
		zap.String("kind", string(kind)),
		zap.String("target", username),
		zap.Int("items", len(page.Items)),
		zap.Bool("has_more", page.HasMore),
	)
	return page, nil
}

// FetchProfile loads and parses username's public profile page.
func (c *Client) FetchProfile(ctx context.Context, account taskqueue.LoginAccount, username string) (Profile, error) {
	fetcher := c.fetcher
	if c.cfg.RenderProfiles && c.renderer != nil {
		fetcher = c.renderer
	}
	target := c.ProfileURL(username)
	resp, err := c.do(ctx, fetcher, account, target, "text/html")
	if err != nil {
		metrics.ObservePage("profile", resultLabel(err))
		return Profile{}, err
	}
	if c.shouldPromote(resp) {
		c.logger.Debug("promoting profile fetch to headless render", zap.String("target", username))
		resp, err = c.do(ctx, c.renderer, account, target, "text/html")
		if err != nil {
			metrics.ObservePage("profile", resultLabel(err))
			return Profile{}, err
		}
	}
	profile, err := ParseProfile(username, resp.Body)
	metrics.ObservePage("profile", resultLabel(err))
	return profile, err
}

func (c *Client) shouldPromote(resp Response) bool {
	return !resp.Rendered && c.renderer != nil && c.promoter != nil && c.promoter.ShouldRender(resp)
}

func (c *Client) do(
	ctx context.Context,
	fetcher Fetcher,
	account taskqueue.LoginAccount,
	target, accept string,
) (Response, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, account.ID); err != nil {
			return Response{}, err
		}
	}
	headers := http.Header{}
	headers.Set("Accept", accept)
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}
	if account.Credential != "" {
		headers.Set("Cookie", account.Credential)
	}
	resp, err := fetcher.Fetch(ctx, Request{URL: target, Headers: headers})
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	if err := classifyStatus(target, resp.StatusCode); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func decodePage(resp Response) (Page, error) {
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType == "text/html" {
			return Page{}, fmt.Errorf("%w: html body from %s", ErrAnomalous, resp.URL)
		}
	}
	var page Page
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	if err := dec.Decode(&page); err != nil {
		return Page{}, fmt.Errorf("%w: decode page from %s: %v", ErrAnomalous, resp.URL, err)
	}
	if page.Items == nil {
		return Page{}, fmt.Errorf("%w: page from %s has no items field", ErrAnomalous, resp.URL)
	}
	if page.HasMore && page.NextCursor == "" {
		return Page{}, fmt.Errorf("%w: page from %s has more items but no cursor", ErrAnomalous, resp.URL)
	}
	return page, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrBanned):
		return "banned"
	case errors.Is(err, ErrAnomalous):
		return "anomalous"
	default:
		return "error"
	}
}
