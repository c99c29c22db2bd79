package crawl

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrThrottled means the remote service rate-limited the account.
	ErrThrottled = errors.New("account throttled")
	// ErrAnomalous means the response did not look like the service's normal
	// output, typically a login wall or a challenge page.
	ErrAnomalous = errors.New("anomalous response")
	// ErrBanned means the remote service rejected the account's credentials.
	ErrBanned = errors.New("account banned")
)

// StatusError reports a non-2xx status that carries no account signal.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

func classifyStatus(url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d from %s", ErrThrottled, code, url)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d from %s", ErrBanned, code, url)
	default:
		return &StatusError{URL: url, Code: code}
	}
}
