package camconfig

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// SettingsRepository loads the run-time knobs from detection_settings.
type SettingsRepository interface {
	ListAll(ctx context.Context) ([]data.DetectionSetting, error)
}

// Settings holds the live pipeline tuning values. The DB rows override the
// seeded defaults; workers read these every iteration so changes apply
// without a restart.
type Settings struct {
	repo SettingsRepository

	mu     sync.RWMutex
	values map[string]float64
}

func NewSettings(repo SettingsRepository, defaults map[string]float64) *Settings {
	values := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &Settings{repo: repo, values: values}
}

// Refresh overlays the stored rows onto the current values. Unknown keys
// are carried as-is so new knobs need no code change to be readable.
func (s *Settings) Refresh(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, row := range rows {
		s.values[row.Key] = row.Value
	}
	s.mu.Unlock()
	return nil
}

// Set updates one knob in memory, used after a successful settings POST so
// the pipeline picks the value up without waiting for the refresh cycle.
func (s *Settings) Set(key string, value float64) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Settings) get(key string, fallback float64) float64 {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		log.Printf("[Settings] missing knob %q, using %v", key, fallback)
		return fallback
	}
	return v
}

func (s *Settings) ConfidenceThreshold() float64 { return s.get("confidence_threshold", 0.3) }
func (s *Settings) PaddingPercent() float64      { return s.get("padding_percent", 0.5) }

func (s *Settings) Cooldown() time.Duration {
	return time.Duration(s.get("cooldown_seconds", 60) * float64(time.Second))
}

func (s *Settings) CleanupInterval() time.Duration {
	return time.Duration(s.get("cleanup_interval", 60) * float64(time.Second))
}

func (s *Settings) FrameSkip() int {
	if v := int(s.get("frame_skip", 15)); v >= 1 {
		return v
	}
	return 1
}

func (s *Settings) QueueSize() int {
	if v := int(s.get("queue_size", 3)); v >= 1 {
		return v
	}
	return 1
}

func (s *Settings) TargetMaxWidth() int {
	return int(s.get("target_max_width", 320))
}
