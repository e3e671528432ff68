package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup_SuppressesInsideWindow(t *testing.T) {
	d := NewDedup(16, 60)

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))
	assert.True(t, d.IsDuplicate("a"))
}

func TestDedup_ExpiresAfterTTL(t *testing.T) {
	d := NewDedup(16, 0) // zero TTL: every sighting is already expired

	assert.False(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("a"))
}

func TestDedup_LRUEvictsOldest(t *testing.T) {
	d := NewDedup(2, 60)

	assert.False(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))
	assert.False(t, d.IsDuplicate("c")) // evicts a
	assert.False(t, d.IsDuplicate("a"))
}

func TestDedupKey_BucketsToMinute(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 30, 12, 0, time.UTC)
	m1 := ViolationMessage{CctvID: 1, ClassID: 2, TrackID: 7, TS: base}
	m2 := ViolationMessage{CctvID: 1, ClassID: 2, TrackID: 7, TS: base.Add(40 * time.Second)}
	m3 := ViolationMessage{CctvID: 1, ClassID: 2, TrackID: 7, TS: base.Add(time.Minute)}

	assert.Equal(t, DedupKey(m1), DedupKey(m2))
	assert.NotEqual(t, DedupKey(m1), DedupKey(m3))

	other := ViolationMessage{CctvID: 2, ClassID: 2, TrackID: 7, TS: base}
	assert.NotEqual(t, DedupKey(m1), DedupKey(other))
}
