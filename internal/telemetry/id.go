package telemetry

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces event ids. With a run id they read
// "<run_id>-<seq>"; without one each id is a random word followed by the
// sequence, both as 8 hex digits.
// Not safe for concurrent use.
type IDGenerator struct {
	runID string
	seq   uint32
	rand  func() uint32
}

// NewIDGenerator creates a generator for runID, which may be empty.
func NewIDGenerator(runID string) *IDGenerator {
	return &IDGenerator{runID: runID, rand: randUint32}
}

// NewRunID returns a fresh 8 hex digit run id.
func NewRunID() string {
	return fmt.Sprintf("%08x", randUint32())
}

// Next returns the next event id.
func (g *IDGenerator) Next() string {
	g.seq++
	if g.runID != "" {
		return fmt.Sprintf("%s-%08x", g.runID, g.seq)
	}
	return fmt.Sprintf("%08x%08x", g.rand(), g.seq)
}

// RunID returns the configured run id.
func (g *IDGenerator) RunID() string {
	return g.runID
}

func randUint32() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}
