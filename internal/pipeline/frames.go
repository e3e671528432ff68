package pipeline

import (
	"sync"
	"time"
)

// FrameSlot holds the latest encoded JPEG for one position in a camera's
// stream, raw or annotated, plus the wall time it was produced. Writers hand
// over ownership of the byte slice; readers must treat it as immutable.
type FrameSlot struct {
	mu   sync.RWMutex
	data []byte
	ts   time.Time
}

func (s *FrameSlot) Set(data []byte, ts time.Time) {
	s.mu.Lock()
	s.data = data
	s.ts = ts
	s.mu.Unlock()
}

// Get returns the stored frame and its timestamp. The slice is shared with
// the writer and must not be modified.
func (s *FrameSlot) Get() ([]byte, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.ts
}

// CameraFrames groups the two slots a camera pipeline publishes into. The
// capture worker owns Raw, the detection worker owns Annotated, and the
// preview handler reads both.
type CameraFrames struct {
	Raw       *FrameSlot
	Annotated *FrameSlot
}

// Seed writes the same frame into both slots. Used for placeholders so the
// preview has something to serve before the first real frame lands.
func (c *CameraFrames) Seed(data []byte, ts time.Time) {
	c.Raw.Set(data, ts)
	c.Annotated.Set(data, ts)
}

// Frames is the process-wide registry of per-camera slots. Slots outlive
// worker restarts so the preview never loses its handle across a reconnect.
type Frames struct {
	mu    sync.RWMutex
	slots map[int64]*CameraFrames
}

func NewFrames() *Frames {
	return &Frames{slots: make(map[int64]*CameraFrames)}
}

// Slots returns the slot pair for a camera, creating it on first use.
func (f *Frames) Slots(cctvID int64) *CameraFrames {
	f.mu.RLock()
	cf, ok := f.slots[cctvID]
	f.mu.RUnlock()
	if ok {
		return cf
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cf, ok = f.slots[cctvID]; ok {
		return cf
	}
	cf = &CameraFrames{Raw: &FrameSlot{}, Annotated: &FrameSlot{}}
	f.slots[cctvID] = cf
	return cf
}
