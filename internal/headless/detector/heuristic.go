// Package detector decides when a profile page needs a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
)

// Heuristic flags JavaScript shells: pages that arrive without the profile
// summary because client-side code fills it in.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

var (
	summaryMarker = []byte("og:description")
	loginMarker   = []byte(`name="password"`)
)

// ShouldRender reports whether resp should be fetched again with the headless
// renderer. Login walls are never promoted: rendering them changes nothing.
func (h *Heuristic) ShouldRender(resp crawl.Response) bool {
	if resp.Rendered || resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if bytes.Contains(body, summaryMarker) || bytes.Contains(body, loginMarker) {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements cover at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			coverage += total - start
			break
		}
		content := start + tagEnd + 1
		end := strings.Index(lower[content:], closeTag)
		next := total
		if end != -1 {
			next = content + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
