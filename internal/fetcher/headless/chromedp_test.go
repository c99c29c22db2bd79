package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, SettleDelay: -time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.slots) != 2 {
		t.Fatalf("expected 2 render slots, got %d", cap(fetcher.slots))
	}
	if fetcher.cfg.SettleDelay != 0 {
		t.Fatalf("expected negative settle delay clamped to 0, got %v", fetcher.cfg.SettleDelay)
	}
	if fetcher.cfg.NavigationTimeout != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", fetcher.cfg.NavigationTimeout)
	}
	if fetcher.cfg.SummarySelector != defaultSummarySel || fetcher.cfg.LoginSelector != defaultLoginSel {
		t.Fatalf("expected default selectors, got %+v", fetcher.cfg)
	}
}

func TestCheckSessionFlagsLoginWalls(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{cfg: Config{LoginPath: defaultLoginPathToken}}
	cases := []struct {
		name     string
		state    string
		finalURL string
		wantErr  bool
	}{
		{"profile rendered", stateProfile, "https://social.example/alice/", false},
		{"nothing matched", statePending, "https://social.example/alice/", false},
		{"login form", stateLogin, "https://social.example/alice/", true},
		{"login redirect", statePending, "https://social.example/accounts/login/?next=/alice/", true},
	}
	for _, tc := range cases {
		err := fetcher.checkSession(tc.state, tc.finalURL)
		if tc.wantErr && !errors.Is(err, crawl.ErrAnomalous) {
			t.Fatalf("%s: expected ErrAnomalous, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestSessionCookiesBoundToTarget(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Cookie", "sessionid=abc; csrftoken=xyz")
	headers.Set("Accept", "text/html")

	cookies := sessionCookies(headers, "https://social.example/alice/")
	if len(cookies) != 2 {
		t.Fatalf("expected two cookies, got %d", len(cookies))
	}
	if cookies[0].Name != "sessionid" || cookies[0].Value != "abc" || cookies[0].URL != "https://social.example/alice/" {
		t.Fatalf("unexpected cookie %+v", cookies[0])
	}

	extra := headersWithoutCookie(headers)
	if _, ok := extra["Cookie"]; ok {
		t.Fatal("cookie header must be installed as cookies, not sent raw")
	}
	if extra["Accept"] != "text/html" {
		t.Fatalf("expected Accept header to pass through, got %v", extra)
	}
	if sessionCookies(http.Header{}, "https://social.example/") != nil {
		t.Fatal("expected no cookies without a session")
	}
}

func TestStateScriptMentionsSelectors(t *testing.T) {
	t.Parallel()

	script := stateScript(defaultSummarySel, defaultLoginSel)
	for _, want := range []string{`og:description`, `password`, stateProfile, stateLogin} {
		if !strings.Contains(script, want) {
			t.Fatalf("state script %q missing %q", script, want)
		}
	}
}

func TestDocumentStatusSnapshot(t *testing.T) {
	t.Parallel()

	doc := &documentStatus{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://cdn/x.png"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 429, URL: "https://social.example/alice/"},
	})
	status, u := doc.snapshot("")
	if status != 429 || u != "https://social.example/alice/" {
		t.Fatalf("unexpected snapshot status=%d url=%s", status, u)
	}

	status, u = (&documentStatus{}).snapshot("https://final")
	if status != http.StatusOK || u != "https://final" {
		t.Fatalf("expected fallbacks, got status=%d url=%s", status, u)
	}
}

func TestFetchHonorsCanceledContextWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	fetcher.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fetcher.Fetch(ctx, crawl.Request{URL: "https://example.com/alice/"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
