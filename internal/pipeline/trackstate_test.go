package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackTable_CooldownWindow(t *testing.T) {
	tt := NewTrackTable()
	base := time.Now()
	cooldown := 60 * time.Second

	assert.True(t, tt.ShouldEmit(7, "no-helmet", base, cooldown))
	assert.False(t, tt.ShouldEmit(7, "no-helmet", base.Add(10*time.Second), cooldown))
	assert.False(t, tt.ShouldEmit(7, "no-helmet", base.Add(59*time.Second), cooldown))
	assert.True(t, tt.ShouldEmit(7, "no-helmet", base.Add(60*time.Second), cooldown))
}

func TestTrackTable_KeyIsTrackAndClass(t *testing.T) {
	tt := NewTrackTable()
	base := time.Now()
	cooldown := time.Minute

	assert.True(t, tt.ShouldEmit(7, "no-helmet", base, cooldown))
	// same track, different class: independent window
	assert.True(t, tt.ShouldEmit(7, "no-vest", base, cooldown))
	// different track, same class
	assert.True(t, tt.ShouldEmit(8, "no-helmet", base, cooldown))
	assert.Equal(t, 3, tt.Len())
}

func TestTrackTable_ZeroCooldownAlwaysEmits(t *testing.T) {
	tt := NewTrackTable()
	base := time.Now()

	assert.True(t, tt.ShouldEmit(1, "no-helmet", base, 0))
	assert.True(t, tt.ShouldEmit(1, "no-helmet", base, 0))
}

func TestTrackTable_SweepDropsStale(t *testing.T) {
	tt := NewTrackTable()
	base := time.Now()

	tt.ShouldEmit(1, "no-helmet", base, time.Minute)
	tt.ShouldEmit(2, "no-helmet", base.Add(50*time.Second), time.Minute)

	removed := tt.Sweep(base.Add(70*time.Second), time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tt.Len())

	// track 1 is gone, so it may emit again immediately
	assert.True(t, tt.ShouldEmit(1, "no-helmet", base.Add(71*time.Second), time.Minute))
}

func TestTrackTable_RunCleanupStops(t *testing.T) {
	tt := NewTrackTable()
	settings := newTestSettings(map[string]float64{"cleanup_interval": 0.01})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		tt.RunCleanup(stop, 1, settings)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
