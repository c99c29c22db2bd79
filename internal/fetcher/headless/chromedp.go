// Package headless renders profile pages in headless Chrome for the crawl client.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
)

const (
	defaultNavTimeout     = 45 * time.Second
	defaultSummarySel     = `meta[property="og:description"]`
	defaultLoginSel       = `input[name="password"]`
	defaultLoginPathToken = "/accounts/login"
	pollInterval          = 100 * time.Millisecond
)

// Page states reported by the in-page state script.
const (
	stateProfile = "profile"
	stateLogin   = "login"
	statePending = ""
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay bounds how long the page may take to show either the
	// profile summary or a login form after the body is ready.
	SettleDelay time.Duration
	// SummarySelector matches the element that proves the profile rendered.
	SummarySelector string
	// LoginSelector matches the login form shown to a dead session.
	LoginSelector string
	// LoginPath is a path fragment that marks a redirect to the login page.
	LoginPath string
}

// Fetcher implements crawl.Fetcher using chromedp. The account session from
// the request's Cookie header is installed as browser cookies for the target
// origin, and pages that land on a login wall are reported as
// crawl.ErrAnomalous.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.SummarySelector == "" {
		cfg.SummarySelector = defaultSummarySel
	}
	if cfg.LoginSelector == "" {
		cfg.LoginSelector = defaultLoginSel
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPathToken
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{cfg: cfg, slots: slots, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL with the account session and returns the DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawl.Request) (crawl.Response, error) {
	if err := f.acquire(ctx); err != nil {
		return crawl.Response{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var (
		html     string
		finalURL string
		state    string
	)
	err := chromedp.Run(tabCtx,
		f.sessionAction(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.waitForContent(&state),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawl.Response{}, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		return crawl.Response{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	if err := f.checkSession(state, finalURL); err != nil {
		return crawl.Response{}, err
	}

	status, responseURL := doc.snapshot(finalURL)
	return crawl.Response{
		URL:        responseURL,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

// checkSession reports a login redirect or login form as an anomalous
// response so the executor flags the account.
func (f *Fetcher) checkSession(state, finalURL string) error {
	if u, err := url.Parse(finalURL); err == nil && strings.Contains(u.Path, f.cfg.LoginPath) {
		return fmt.Errorf("%w: redirected to login at %s", crawl.ErrAnomalous, finalURL)
	}
	if state == stateLogin {
		return fmt.Errorf("%w: login form rendered at %s", crawl.ErrAnomalous, finalURL)
	}
	return nil
}

// sessionAction installs the request's cookies for the target origin and sets
// the remaining headers on every request of the page load.
func (f *Fetcher) sessionAction(request crawl.Request) chromedp.Action {
	cookies := sessionCookies(request.Headers, request.URL)
	extra := headersWithoutCookie(request.Headers)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(cookies) > 0 {
			if err := network.SetCookies(cookies).Do(ctx); err != nil {
				return fmt.Errorf("install session cookies: %w", err)
			}
		}
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// waitForContent polls until the profile summary or a login form appears, or
// SettleDelay elapses. A page showing neither is returned as is and left to
// the profile parser.
func (f *Fetcher) waitForContent(state *string) chromedp.Action {
	script := stateScript(f.cfg.SummarySelector, f.cfg.LoginSelector)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(f.cfg.SettleDelay)
		for {
			if err := chromedp.Evaluate(script, state).Do(ctx); err != nil {
				return fmt.Errorf("read page state: %w", err)
			}
			if *state != statePending || !time.Now().Before(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	})
}

func stateScript(summarySel, loginSel string) string {
	return fmt.Sprintf(
		`document.querySelector(%q) ? %q : (document.querySelector(%q) ? %q : %q)`,
		summarySel, stateProfile, loginSel, stateLogin, statePending,
	)
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// sessionCookies turns a Cookie header into browser cookies bound to target.
func sessionCookies(headers http.Header, target string) []*network.CookieParam {
	if headers.Get("Cookie") == "" {
		return nil
	}
	parsed := (&http.Request{Header: http.Header{"Cookie": headers.Values("Cookie")}}).Cookies()
	cookies := make([]*network.CookieParam, 0, len(parsed))
	for _, c := range parsed {
		cookies = append(cookies, &network.CookieParam{Name: c.Name, Value: c.Value, URL: target})
	}
	return cookies
}

func headersWithoutCookie(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 || http.CanonicalHeaderKey(key) == "Cookie" {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// documentStatus records the status of the main document response.
type documentStatus struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

func (d *documentStatus) snapshot(finalURL string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, u := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL != "" {
		u = finalURL
	}
	return status, u
}
