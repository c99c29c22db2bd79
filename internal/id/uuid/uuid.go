// Package uuid generates task and account IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

var _ taskqueue.IDGenerator = Generator{}

// Generator creates UUIDv7 strings. Version 7 IDs sort by creation time, so
// ID order doubles as FIFO order in the stores.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
