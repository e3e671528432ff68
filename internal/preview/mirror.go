package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

// Key TTLs: a consumer reading an expired key knows the pipeline stopped,
// without the service having to publish tombstones.
const (
	frameKeyTTL     = 5 * time.Second
	detectionKeyTTL = 10 * time.Second

	mirrorLogInterval = 30 * time.Second
)

// Mirror copies the freshest raw frame and detection summary per camera
// into Redis. Both writes are fire-and-forget: Redis being down degrades
// external consumers, never the pipeline.
type Mirror struct {
	rdb *redis.Client

	mu      sync.Mutex
	lastLog time.Time
}

func NewMirror(rdb *redis.Client) *Mirror {
	return &Mirror{rdb: rdb}
}

type mirroredBox struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	TrackID    int     `json:"track_id"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

type mirroredDetections struct {
	CctvID int64         `json:"cctv_id"`
	TSUnix int64         `json:"ts_unix_ms"`
	Boxes  []mirroredBox `json:"boxes"`
}

// MirrorFrame stores the latest raw JPEG under cctv_frame:{id}.
func (m *Mirror) MirrorFrame(ctx context.Context, cctvID int64, jpeg []byte) {
	if m == nil || m.rdb == nil || len(jpeg) == 0 {
		return
	}
	key := fmt.Sprintf("cctv_frame:%d", cctvID)
	if err := m.rdb.Set(ctx, key, jpeg, frameKeyTTL).Err(); err != nil {
		m.logThrottled("frame", err)
	}
}

// MirrorDetections stores the latest detection summary under det:latest:{id}.
func (m *Mirror) MirrorDetections(ctx context.Context, cctvID int64, dets []pipeline.TrackedDetection) {
	if m == nil || m.rdb == nil {
		return
	}
	payload := mirroredDetections{
		CctvID: cctvID,
		TSUnix: time.Now().UnixMilli(),
		Boxes:  make([]mirroredBox, 0, len(dets)),
	}
	for _, d := range dets {
		payload.Boxes = append(payload.Boxes, mirroredBox{
			Label:      d.ClassName,
			Confidence: d.Confidence,
			TrackID:    d.TrackID,
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := fmt.Sprintf("det:latest:%d", cctvID)
	if err := m.rdb.Set(ctx, key, data, detectionKeyTTL).Err(); err != nil {
		m.logThrottled("detections", err)
	}
}

// logThrottled keeps a dead Redis from flooding the log at frame rate.
func (m *Mirror) logThrottled(what string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastLog) < mirrorLogInterval {
		return
	}
	m.lastLog = time.Now()
	log.Printf("[Preview] redis %s mirror failed: %v", what, err)
}
