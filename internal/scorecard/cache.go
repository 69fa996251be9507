package scorecard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache holds rendered cards by analysis ID for a short period. Stored
// analyses never change, so the TTL only bounds memory.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	ttl      time.Duration
	maxItems int
	clock    clockwork.Clock
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL holding at most maxItems cards.
func NewCache(ttl time.Duration, maxItems int, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      ttl,
		maxItems: maxItems,
		clock:    clock,
	}
}

// Get returns the cached card if still valid.
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Set stores a card, dropping expired entries first when full.
func (c *Cache) Set(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if len(c.entries) >= c.maxItems {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxItems {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[id] = entry{data: data, expiresAt: now.Add(c.ttl)}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
