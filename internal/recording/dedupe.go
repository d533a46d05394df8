package recording

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL measured on the caller's clock.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time), limit: 10000}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if ttl <= 0 || absDuration(now.Sub(ts)) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > d.limit {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	for k, ts := range d.items {
		if absDuration(now.Sub(ts)) > ttl {
			delete(d.items, k)
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
