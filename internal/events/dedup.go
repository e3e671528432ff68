package events

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeated publishes of the same logical event inside a
// time window. Bounded by an LRU so a long-running fleet cannot grow it
// without limit.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttlSeconds int) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{
		cache: c,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

// IsDuplicate reports whether key was seen inside the window and refreshes
// its entry otherwise.
func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}
