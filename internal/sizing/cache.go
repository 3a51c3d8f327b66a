package sizing

import (
	"sync"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// Cache maps estimate keys to sizes in bytes. It is safe for concurrent use
// and is only emptied by Reset. Every Reset starts a new generation.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]int64
	hits       int
	misses     int
	generation uint64
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]int64)}
}

// Key identifies an estimate for one video and one parameter set.
func Key(props models.VideoProperties, params models.ConversionParams) string {
	key := props.Fingerprint() + "_" + params.Fingerprint()
	if params.Optimize {
		key += "_opt"
	}
	return key
}

// Get returns the cached size for key and records a hit or miss.
func (c *Cache) Get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return size, ok
}

// Put stores size under key, replacing any previous entry.
func (c *Cache) Put(key string, size int64) {
	c.mu.Lock()
	c.entries[key] = size
	c.mu.Unlock()
}

// Generation returns the number of Resets so far.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PutIfCurrent stores size under key unless the cache was Reset since
// generation gen. It reports whether the entry was stored.
func (c *Cache) PutIfCurrent(gen uint64, key string, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.entries[key] = size
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Reset drops all entries and counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]int64)
	c.hits, c.misses = 0, 0
	c.generation++
	c.mu.Unlock()
}
