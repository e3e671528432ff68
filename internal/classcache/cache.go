// Package classcache mirrors the object_class table in memory for the
// detection hot path: name and id lookups, display colors, violation flags
// and the positive/"no-" pair mapping.
package classcache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

const DefaultTTL = 30 * time.Second

// Repository is the slice of the data layer the cache consumes.
type Repository interface {
	ListAll(ctx context.Context) ([]data.ObjectClass, error)
}

type Cache struct {
	repo Repository
	ttl  time.Duration

	mu          sync.RWMutex
	byName      map[string]data.ObjectClass
	byID        map[int64]data.ObjectClass
	pairs       map[int64]int64
	violationID map[int64]struct{}
	lastRefresh time.Time
}

func NewCache(repo Repository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:        repo,
		ttl:         ttl,
		byName:      map[string]data.ObjectClass{},
		byID:        map[int64]data.ObjectClass{},
		pairs:       map[int64]int64{},
		violationID: map[int64]struct{}{},
	}
}

// Refresh reloads the table and swaps the maps atomically. Readers only
// ever observe a complete snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	classes, err := c.repo.ListAll(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]data.ObjectClass, len(classes))
	byID := make(map[int64]data.ObjectClass, len(classes))
	pairs := make(map[int64]int64)
	violationID := make(map[int64]struct{})

	for _, cl := range classes {
		byName[cl.Name] = cl
		byID[cl.ID] = cl
		if cl.IsViolation {
			violationID[cl.ID] = struct{}{}
		}
		if cl.PairID != nil {
			// Pair map is symmetric regardless of which row carries the link.
			pairs[cl.ID] = *cl.PairID
			pairs[*cl.PairID] = cl.ID
		}
	}

	c.mu.Lock()
	c.byName = byName
	c.byID = byID
	c.pairs = pairs
	c.violationID = violationID
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) maybeRefresh(ctx context.Context) {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		log.Printf("[Class Cache] refresh failed: %v", err)
	}
}

func (c *Cache) Lookup(ctx context.Context, name string) (data.ObjectClass, bool) {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.byName[name]
	return cl, ok
}

func (c *Cache) LookupID(ctx context.Context, id int64) (data.ObjectClass, bool) {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.byID[id]
	return cl, ok
}

func (c *Cache) IsViolation(ctx context.Context, name string) bool {
	cl, ok := c.Lookup(ctx, name)
	return ok && cl.IsViolation
}

// Color returns the display RGB for a class, white when unset or unknown.
func (c *Cache) Color(ctx context.Context, name string) (r, g, b uint8) {
	cl, ok := c.Lookup(ctx, name)
	if !ok || cl.ColorR == nil || cl.ColorG == nil || cl.ColorB == nil {
		return 255, 255, 255
	}
	return uint8(*cl.ColorR), uint8(*cl.ColorG), uint8(*cl.ColorB)
}

func (c *Cache) PairOf(ctx context.Context, id int64) (int64, bool) {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	pair, ok := c.pairs[id]
	return pair, ok
}

// ViolationIDs returns the set of class ids flagged is_violation.
func (c *Cache) ViolationIDs(ctx context.Context) map[int64]struct{} {
	c.maybeRefresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]struct{}, len(c.violationID))
	for id := range c.violationID {
		out[id] = struct{}{}
	}
	return out
}
