package document

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator produces collision-free 16 hex character document ids
// derived from a monotonic counter seeded at construction with the
// current time in nanoseconds: every subsequent id is the seed plus an
// atomically incremented offset, so ids are unique within the process's
// lifetime and sort in creation order even under concurrent insert.
type IDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator returns a ready-to-use generator seeded from wall-clock
// time.
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.counter.Store(uint64(time.Now().UnixNano()))
	return g
}

// Next returns the next id: exactly 16 lowercase hex characters.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%016x", n)
}
