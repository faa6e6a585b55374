package obs

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator hands out unique order IDs. Seeding with the wall clock keeps
// IDs unique across restarts so persisted rows never collide.
type IDGenerator struct {
	prefix string
	next   uint64
}

// NewIDGenerator returns a generator for IDs of the form "<prefix>-<n>".
// A zero seed uses the current time.
func NewIDGenerator(prefix string, seed uint64) *IDGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().Unix()) << 20
	}
	return &IDGenerator{prefix: prefix, next: seed}
}

// Next returns the next ID.
func (g *IDGenerator) Next() string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("%s-%d", g.prefix, atomic.AddUint64(&g.next, 1))
}
