package engine

import (
	"sync"

	"github.com/google/uuid"
)

// CorrelationGenerator produces correlation tokens for submitted operations.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type CorrelationGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation tokens, so
// tokens in the log sort roughly by submission time.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 in hyphenated form.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens in order.
//
//	gen := NewFixedGenerator("c-1", "c-2")
//	gen.Generate() // "c-1"
//	gen.Generate() // "c-2"
//	gen.Generate() // panic: all tokens exhausted
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics once all tokens are consumed: a test submitted more operations than
// it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
