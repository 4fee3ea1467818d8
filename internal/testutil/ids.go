package testutil

import "fmt"

// SequenceIDGenerator hands out "<prefix>-1", "<prefix>-2", ... in call order.
//
// Scenarios use it in place of reactive.UUIDv7Generator so subscription and
// statement ids are stable across runs and can appear in golden files.
// Safe for concurrent use.
type SequenceIDGenerator struct {
	prefix string
	clock  DeterministicClock
}

// NewSequenceIDGenerator creates a generator. An empty prefix becomes "id".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements reactive.IDGenerator.
func (g *SequenceIDGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.clock.Next())
}

// Reset restarts the sequence at 1.
func (g *SequenceIDGenerator) Reset() { g.clock.Reset() }
