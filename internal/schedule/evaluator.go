// Package schedule answers "should this camera be detecting right now".
// Results are cached briefly because the detection workers ask on every
// frame and the answer only changes at window boundaries.
package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	defaultCacheTTL = 20 * time.Second
	queryTimeout    = 5 * time.Second
)

// Repository is the data-layer slice the evaluator needs.
type Repository interface {
	IsActiveNow(ctx context.Context, cctvID int64, dayOfWeek int, clock string) (bool, error)
}

type cacheEntry struct {
	active bool
	at     time.Time
}

// Evaluator resolves per-camera schedule state in the configured timezone.
// Lookup errors resolve to inactive, so a broken database degrades cameras
// to stream-only instead of detecting against an unknown schedule.
type Evaluator struct {
	repo Repository
	loc  *time.Location
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

func NewEvaluator(repo Repository, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{
		repo:  repo,
		loc:   loc,
		ttl:   defaultCacheTTL,
		now:   time.Now,
		cache: make(map[int64]cacheEntry),
	}
}

// ActiveNow reports whether the camera has an open detection window.
func (e *Evaluator) ActiveNow(cctvID int64) bool {
	now := e.now()

	e.mu.Lock()
	if entry, ok := e.cache[cctvID]; ok && now.Sub(entry.at) < e.ttl {
		e.mu.Unlock()
		return entry.active
	}
	e.mu.Unlock()

	local := now.In(e.loc)
	// time.Weekday numbers Sunday as 0, matching the schema encoding.
	day := int(local.Weekday())
	clock := local.Format("15:04:05")

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	active, err := e.repo.IsActiveNow(ctx, cctvID, day, clock)
	if err != nil {
		log.Printf("[Schedule] lookup for cctv %d failed: %v", cctvID, err)
		active = false
	}

	e.mu.Lock()
	e.cache[cctvID] = cacheEntry{active: active, at: now}
	e.mu.Unlock()
	return active
}

// Invalidate drops all cached answers. Called after schedule edits so the
// next sweep sees them immediately.
func (e *Evaluator) Invalidate() {
	e.mu.Lock()
	e.cache = make(map[int64]cacheEntry)
	e.mu.Unlock()
}
