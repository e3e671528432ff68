package pipeline

import (
	"log"
	"sync"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
)

// TrackTable remembers the last accepted emit per (track id, class name) so
// one person lingering in frame produces one event per cooldown window, not
// one per frame. Time comparisons use the monotonic reading carried by
// time.Time, so wall-clock jumps do not shorten or extend a cooldown.
type TrackTable struct {
	mu   sync.Mutex
	last map[trackKey]time.Time
}

type trackKey struct {
	track int
	class string
}

func NewTrackTable() *TrackTable {
	return &TrackTable{last: make(map[trackKey]time.Time)}
}

// ShouldEmit reports whether the cooldown for this (track, class) has
// elapsed and records now as the new last emit when it has. Check and update
// share one critical section so the same track cannot pass twice in a burst.
func (t *TrackTable) ShouldEmit(track int, class string, now time.Time, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := trackKey{track: track, class: class}
	if last, ok := t.last[k]; ok && now.Sub(last) < cooldown {
		return false
	}
	t.last[k] = now
	return true
}

// Sweep drops entries whose last emit is older than ttl and returns how
// many were removed.
func (t *TrackTable) Sweep(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, last := range t.last {
		if now.Sub(last) > ttl {
			delete(t.last, k)
			removed++
		}
	}
	return removed
}

func (t *TrackTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// RunCleanup sweeps the table on the configured interval until stop closes.
// The interval doubles as the entry TTL: an entry that old can no longer
// suppress anything at the default cooldown.
func (t *TrackTable) RunCleanup(stop <-chan struct{}, cctvID int64, settings *camconfig.Settings) {
	for {
		interval := settings.CleanupInterval()
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		if removed := t.Sweep(time.Now(), interval); removed > 0 {
			log.Printf("[CCTV %d] cleanup removed %d stale tracks", cctvID, removed)
		}
	}
}
