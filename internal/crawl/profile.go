package crawl

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var counterPattern = regexp.MustCompile(`(?i)([\d.,]+)\s*([km])?\s+(followers?|following|posts?)`)

// ParseProfile extracts public counters from a profile page. A page without
// the og:description summary is a login wall or challenge and is reported as
// ErrAnomalous.
func ParseProfile(username string, body []byte) (Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: parse profile html: %v", ErrAnomalous, err)
	}
	desc := strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	if desc == "" {
		if doc.Find(`input[name="password"]`).Length() > 0 {
			return Profile{}, fmt.Errorf("%w: login wall on profile %s", ErrAnomalous, username)
		}
		return Profile{}, fmt.Errorf("%w: profile %s has no summary", ErrAnomalous, username)
	}

	profile := Profile{Username: username, Description: desc}
	matches := counterPattern.FindAllStringSubmatch(desc, -1)
	if len(matches) == 0 {
		return Profile{}, fmt.Errorf("%w: no counters in profile %s summary", ErrAnomalous, username)
	}
	for _, m := range matches {
		n, err := parseCount(m[1], m[2])
		if err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrAnomalous, err)
		}
		switch strings.ToLower(m[3]) {
		case "follower", "followers":
			profile.Followers = n
		case "following":
			profile.Following = n
		case "post", "posts":
			profile.Posts = n
		}
	}
	return profile, nil
}

// parseCount reads "1,234", "12.5" + "k" or "3" + "M" style counters.
func parseCount(digits, suffix string) (int, error) {
	digits = strings.ReplaceAll(digits, ",", "")
	mult := 1.0
	switch strings.ToLower(suffix) {
	case "k":
		mult = 1e3
	case "m":
		mult = 1e6
	}
	if mult == 1 {
		n, err := strconv.Atoi(strings.TrimSuffix(digits, "."))
		if err != nil {
			return 0, fmt.Errorf("counter %q: %w", digits, err)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %q: %w", digits, err)
	}
	return int(math.Round(f * mult)), nil
}
