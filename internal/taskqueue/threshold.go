package taskqueue

import "fmt"

// CloseEnough reports whether collected/expected has reached ratio.
//
// An expected total of zero means the real total is unknown, so it is an
// error rather than "100% complete".
func CloseEnough(collected, expected int, ratio float64) (bool, error) {
	if expected == 0 {
		return false, fmt.Errorf("close enough %d/%d: %w", collected, expected, ErrDivideByZero)
	}
	return float64(collected)/float64(expected) >= ratio, nil
}
