package sink

import (
	"sync"
	"time"
)

type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// AllowKey reports whether key may fire now and records the firing.
func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	c.prune(now, cooldown)
	return true
}

func (c *Cooldown) prune(now time.Time, cooldown time.Duration) {
	if len(c.last) < 1024 {
		return
	}
	for k, ts := range c.last {
		if now.Sub(ts) >= cooldown {
			delete(c.last, k)
		}
	}
}
