package market

import (
	"sync"
	"time"
)

const defaultCacheDepth = 200

// Tick is an immutable snapshot of one instrument's latest trade.
type Tick struct {
	Symbol        string
	LastPrice     float64
	Volume        int64
	High          float64
	Low           float64
	ChangePercent float64
	ObservedAt    time.Time
}

// Snapshot is the read-only view of the cache handed to strategy evaluation.
type Snapshot interface {
	Latest(symbol string) (Tick, bool)
	Recent(symbol string, n int) []Tick
}

// TickCache keeps the latest tick plus a bounded ring of recent ticks per symbol.
// Writes come only from the market data feed; everyone else reads.
type TickCache struct {
	mu    sync.RWMutex
	depth int
	books map[string]*tickRing
}

// tickRing is a fixed-capacity circular buffer. No resizing.
type tickRing struct {
	data   []Tick
	index  int
	size   int
	latest Tick
}

// NewTickCache allocates a cache holding up to depth recent ticks per symbol.
func NewTickCache(depth int) *TickCache {
	if depth <= 0 {
		depth = defaultCacheDepth
	}
	return &TickCache{
		depth: depth,
		books: make(map[string]*tickRing),
	}
}

// Put stores a tick as the latest for its symbol and appends it to the ring.
func (c *TickCache) Put(tick Tick) {
	if tick.Symbol == "" {
		return
	}
	c.mu.Lock()
	ring := c.books[tick.Symbol]
	if ring == nil {
		ring = &tickRing{data: make([]Tick, c.depth)}
		c.books[tick.Symbol] = ring
	}
	ring.latest = tick
	ring.data[ring.index] = tick
	ring.index = (ring.index + 1) % len(ring.data)
	if ring.size < len(ring.data) {
		ring.size++
	}
	c.mu.Unlock()
}

// Latest returns the most recent tick for a symbol.
func (c *TickCache) Latest(symbol string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.books[symbol]
	if ring == nil || ring.size == 0 {
		return Tick{}, false
	}
	return ring.latest, true
}

// Recent returns up to n ticks for a symbol, oldest first.
func (c *TickCache) Recent(symbol string, n int) []Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.books[symbol]
	if ring == nil || ring.size == 0 || n <= 0 {
		return nil
	}
	count := n
	if count > ring.size {
		count = ring.size
	}
	result := make([]Tick, count)
	start := (ring.index - count + len(ring.data)) % len(ring.data)
	for i := 0; i < count; i++ {
		result[i] = ring.data[(start+i)%len(ring.data)]
	}
	return result
}

// Symbols lists every symbol the cache has seen.
func (c *TickCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.books))
	for symbol := range c.books {
		symbols = append(symbols, symbol)
	}
	return symbols
}
