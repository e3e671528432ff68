// Package supervisor owns the per-camera worker sets: starting them in the
// right mode, restarting them when their configuration changes and tearing
// them down when a camera disappears.
package supervisor

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

// Mode is what a camera's worker set is doing right now.
type Mode int

const (
	// ModeStreamOnly runs capture alone; frames flow to the preview but
	// nothing is detected.
	ModeStreamOnly Mode = iota
	// ModeFull runs capture plus detection.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "stream-only"
}

// LaunchFunc starts the worker goroutines for one camera and returns the
// WaitGroup they are registered on. Workers must exit when stop closes.
type LaunchFunc func(cam camconfig.CameraConfig, full bool, stop <-chan struct{}) *sync.WaitGroup

type record struct {
	key  string
	mode Mode
	stop chan struct{}
	done chan struct{}
}

func (r *record) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// CameraSupervisor tracks one record per camera id. Start is idempotent for
// an unchanged camera; a changed configuration or a dead worker set causes
// a stop-and-relaunch.
type CameraSupervisor struct {
	launch LaunchFunc
	frames *pipeline.Frames
	grace  time.Duration

	mu      sync.Mutex
	records map[int64]*record
}

func New(launch LaunchFunc, frames *pipeline.Frames) *CameraSupervisor {
	return &CameraSupervisor{
		launch:  launch,
		frames:  frames,
		grace:   500 * time.Millisecond,
		records: make(map[int64]*record),
	}
}

// Start brings the camera's worker set to the desired mode. A no-op when the
// same configuration is already running; otherwise the old set is stopped
// first so two captures never share a camera.
func (s *CameraSupervisor) Start(cam camconfig.CameraConfig, full bool) {
	desired := ModeStreamOnly
	if full {
		desired = ModeFull
	}
	key := configKey(cam)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[cam.ID]; ok {
		if rec.mode == desired && rec.key == key && rec.alive() {
			return
		}
		s.stopLocked(cam.ID, rec)
	}

	s.frames.Slots(cam.ID).Seed(pipeline.PlaceholderInitializing(), time.Now())

	stop := make(chan struct{})
	wg := s.launch(cam, full, stop)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	s.records[cam.ID] = &record{key: key, mode: desired, stop: stop, done: done}
	log.Printf("[Supervisor] cctv %d (%s) started in %s mode", cam.ID, cam.Name, desired)
}

// Stop tears down one camera's workers if they are running.
func (s *CameraSupervisor) Stop(cctvID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[cctvID]; ok {
		s.stopLocked(cctvID, rec)
	}
}

// StopAll tears down every camera, used at shutdown.
func (s *CameraSupervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.stopLocked(id, s.records[id])
	}
}

// Mode reports the running mode for a camera.
func (s *CameraSupervisor) Mode(cctvID int64) (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[cctvID]
	if !ok {
		return ModeStreamOnly, false
	}
	return rec.mode, true
}

// Modes snapshots the running cameras and their modes.
func (s *CameraSupervisor) Modes() map[int64]Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Mode, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.mode
	}
	return out
}

// stopLocked signals the workers and waits briefly for them to drain. A
// worker stuck past the grace period is abandoned; it holds no lock and
// exits on its next stop check.
func (s *CameraSupervisor) stopLocked(cctvID int64, rec *record) {
	close(rec.stop)
	select {
	case <-rec.done:
	case <-time.After(s.grace):
		log.Printf("[Supervisor] cctv %d workers slow to stop, abandoning", cctvID)
	}
	delete(s.records, cctvID)
	log.Printf("[Supervisor] cctv %d stopped", cctvID)
}

// configKey fingerprints everything a worker set bakes in at launch, so a
// connection or ROI edit forces a restart.
func configKey(cam camconfig.CameraConfig) string {
	roi := ""
	if cam.ROI != nil {
		if b, err := json.Marshal(cam.ROI); err == nil {
			roi = string(b)
		}
	}
	return fmt.Sprintf("%s|%d|%s|%s|%s|%t|%s",
		cam.IPAddress, cam.Port, cam.Token, cam.Name, cam.Location, cam.Enabled, roi)
}
