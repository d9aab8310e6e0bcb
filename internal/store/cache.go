package store

import "sync"

// Cache keeps the last known baseline of each department in memory so consecutive runs do not
// reload it from the tiers.
//
// Entries are only ever replaced by baselines that were durably committed, anything that
// leaves the durable state ahead of the cached one must Evict the key.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]Baseline
}

func NewCache() *Cache {
	return &Cache{entries: map[Key]Baseline{}}
}

func (c *Cache) Get(key Key) (Baseline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	baseline, ok := c.entries[key]
	return baseline, ok
}

func (c *Cache) Set(key Key, baseline Baseline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = baseline
}

func (c *Cache) Evict(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
