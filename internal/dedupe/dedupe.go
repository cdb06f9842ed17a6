package dedupe

import (
	"context"
	"sync"
	"time"
)

// Guard claims keys for a period of time. Acquire reports false when the key is already held.
// A non-positive ttl holds the key until Release.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type entry struct {
	at  time.Time
	ttl time.Duration
}

func (e entry) live(now time.Time) bool {
	return e.ttl <= 0 || now.Sub(e.at) <= e.ttl
}

// Cache is the in-process Guard.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]entry), now: time.Now}
}

// Seen reports whether key was recorded within ttl, recording it when it was not.
func (d *Cache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.items[key]; ok && e.live(now) {
		return true
	}
	d.items[key] = entry{at: now, ttl: ttl}
	if len(d.items) > 10000 {
		d.compact(now)
	}
	return false
}

func (d *Cache) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return !d.Seen(key, d.now(), ttl), nil
}

func (d *Cache) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

func (d *Cache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *Cache) compact(now time.Time) {
	for k, e := range d.items {
		if !e.live(now) {
			delete(d.items, k)
		}
	}
}
