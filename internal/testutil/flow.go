package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable submission ids: prefix-0001,
// prefix-0002, and so on.
//
// It stands in for the UUIDv7 generator so golden output stays byte-identical
// between runs.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "sub".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "sub"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
