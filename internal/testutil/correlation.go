package testutil

import (
	"fmt"
	"sync"
)

// FixedCorrelation returns the same correlation token every time, so every
// operation in a scenario shares one token.
//
// If token is empty, Generate returns "test-correlation".
type FixedCorrelation struct {
	token string
}

// NewFixedCorrelation creates a fixed correlation generator.
func NewFixedCorrelation(token string) *FixedCorrelation {
	if token == "" {
		token = "test-correlation"
	}
	return &FixedCorrelation{token: token}
}

// Generate returns the fixed token.
func (g *FixedCorrelation) Generate() string {
	return g.token
}

// SequentialCorrelation returns prefix-0001, prefix-0002, ...
type SequentialCorrelation struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialCorrelation creates a numbered correlation generator.
func NewSequentialCorrelation(prefix string) *SequentialCorrelation {
	return &SequentialCorrelation{prefix: prefix}
}

// Generate returns the next numbered token.
func (g *SequentialCorrelation) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
