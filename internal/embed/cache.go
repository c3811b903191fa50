package embed

import (
	"sync"

	"github.com/zeebo/blake3"
)

// Cache is an in-memory embedding cache keyed by a blake3 content hash.
// When full it evicts a quarter of its entries; exact recency is not worth
// tracking for vectors this cheap to recompute.
type Cache struct {
	mu      sync.Mutex
	entries map[[32]byte][]float64
	maxSize int
}

// NewCache creates a cache holding at most maxSize vectors.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		entries: make(map[[32]byte][]float64),
		maxSize: maxSize,
	}
}

func cacheKey(text string) [32]byte {
	return blake3.Sum256([]byte(text))
}

// Get returns the cached vector for text, or nil.
func (c *Cache) Get(text string) []float64 {
	key := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Set stores a vector for text.
func (c *Cache) Set(text string, embedding []float64) {
	key := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		evict := c.maxSize / 4
		if evict < 1 {
			evict = 1
		}
		for k := range c.entries {
			delete(c.entries, k)
			evict--
			if evict == 0 {
				break
			}
		}
	}
	c.entries[key] = embedding
}

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all cached vectors.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[[32]byte][]float64)
}
