// Package camconfig keeps the in-memory mirrors of the enabled camera fleet
// and its per-camera violation selections, plus the run-time tuning values
// read from the detection_settings table.
package camconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// CameraConfig is the immutable per-camera snapshot handed to supervisors.
// ROI is nil when the camera has no parseable region set.
type CameraConfig struct {
	ID        int64
	Name      string
	Location  string
	IPAddress string
	Port      int
	Token     string
	Enabled   bool
	ROI       *ROIConfig
}

func (c CameraConfig) StreamURL() string {
	return fmt.Sprintf("rtsps://%s:%d/%s?enableSrtp", c.IPAddress, c.Port, c.Token)
}

func (c CameraConfig) FallbackURL() string {
	return fmt.Sprintf("rtsp://%s:%d/%s", c.IPAddress, c.Port+6, c.Token)
}

// CameraRepository is the data-layer slice the store consumes.
type CameraRepository interface {
	ListEnabled(ctx context.Context) ([]data.Camera, error)
}

// ViolationConfigRepository loads the per-camera activated class ids.
type ViolationConfigRepository interface {
	ActiveMap(ctx context.Context) (map[int64][]int64, error)
}

// ObjectFetcher downloads an ROI file when cctv_data.area names one instead
// of embedding JSON.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, name string) ([]byte, error)
}

type Store struct {
	cameras CameraRepository
	configs ViolationConfigRepository
	fetcher ObjectFetcher

	mu       sync.RWMutex
	snapshot []CameraConfig
	active   map[int64]map[int64]struct{}
}

func NewStore(cameras CameraRepository, configs ViolationConfigRepository, fetcher ObjectFetcher) *Store {
	return &Store{
		cameras: cameras,
		configs: configs,
		fetcher: fetcher,
		active:  map[int64]map[int64]struct{}{},
	}
}

// Refresh rebuilds both mirrors. Pipelines keep whatever snapshot they
// started with; the supervisor decides when a restart is warranted.
func (s *Store) Refresh(ctx context.Context) error {
	cams, err := s.cameras.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("camconfig: list cameras: %w", err)
	}
	activeRaw, err := s.configs.ActiveMap(ctx)
	if err != nil {
		return fmt.Errorf("camconfig: active map: %w", err)
	}

	snapshot := make([]CameraConfig, 0, len(cams))
	for _, cam := range cams {
		cc := CameraConfig{
			ID:        cam.ID,
			Name:      cam.Name,
			IPAddress: cam.IPAddress,
			Port:      cam.Port,
			Token:     cam.Token,
			Enabled:   cam.Enabled,
		}
		if cam.Location != nil {
			cc.Location = *cam.Location
		}
		cc.ROI = s.resolveROI(ctx, cam)
		snapshot = append(snapshot, cc)
	}

	active := make(map[int64]map[int64]struct{}, len(activeRaw))
	for cctvID, classIDs := range activeRaw {
		set := make(map[int64]struct{}, len(classIDs))
		for _, id := range classIDs {
			set[id] = struct{}{}
		}
		active[cctvID] = set
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.active = active
	s.mu.Unlock()
	return nil
}

// resolveROI accepts both storage shapes: inline JSON in the area column,
// or an object name pointing into the evidence store.
func (s *Store) resolveROI(ctx context.Context, cam data.Camera) *ROIConfig {
	if cam.Area == nil || strings.TrimSpace(*cam.Area) == "" {
		return nil
	}
	raw := strings.TrimSpace(*cam.Area)

	if json.Valid([]byte(raw)) {
		roi, err := ParseROI([]byte(raw))
		if err != nil {
			log.Printf("[Camera Config] cctv %d: inline ROI rejected: %v", cam.ID, err)
			return nil
		}
		return roi
	}

	if s.fetcher == nil {
		log.Printf("[Camera Config] cctv %d: area names file %q but no fetcher configured", cam.ID, raw)
		return nil
	}
	blob, err := s.fetcher.FetchObject(ctx, raw)
	if err != nil {
		log.Printf("[Camera Config] cctv %d: fetch ROI file %q: %v", cam.ID, raw, err)
		return nil
	}
	roi, err := ParseROI(blob)
	if err != nil {
		log.Printf("[Camera Config] cctv %d: ROI file %q rejected: %v", cam.ID, raw, err)
		return nil
	}
	return roi
}

// Snapshot returns a copy of the current camera list.
func (s *Store) Snapshot() []CameraConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CameraConfig, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Get returns one camera's config from the current snapshot.
func (s *Store) Get(cctvID int64) (CameraConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.snapshot {
		if c.ID == cctvID {
			return c, true
		}
	}
	return CameraConfig{}, false
}

// ActiveSet returns the activated violation class ids for a camera.
func (s *Store) ActiveSet(cctvID int64) map[int64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.active[cctvID]
	out := make(map[int64]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out
}
