package supervisor

import (
	"context"
	"log"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
)

// Supervisor is the lifecycle surface the fleet drives. Satisfied by
// CameraSupervisor.
type Supervisor interface {
	Start(cam camconfig.CameraConfig, full bool)
	Stop(cctvID int64)
	Modes() map[int64]Mode
}

// ConfigSource yields the enabled cameras with resolved ROIs.
type ConfigSource interface {
	Snapshot() []camconfig.CameraConfig
}

// ScheduleSource answers whether a camera is inside a detection window.
type ScheduleSource interface {
	ActiveNow(cctvID int64) bool
}

// Fleet converges the running worker sets onto the desired state: every
// enabled camera runs, in full mode inside its schedule windows and
// stream-only outside them.
type Fleet struct {
	store ConfigSource
	sched ScheduleSource
	sup   Supervisor
	met   *metrics.Metrics
}

func NewFleet(store ConfigSource, sched ScheduleSource, sup Supervisor, met *metrics.Metrics) *Fleet {
	return &Fleet{store: store, sched: sched, sup: sup, met: met}
}

// RefreshState runs one convergence sweep. Called every scheduler minute and
// after configuration pokes.
func (f *Fleet) RefreshState(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}

	desired := f.store.Snapshot()
	seen := make(map[int64]struct{}, len(desired))
	full, streamOnly := 0, 0

	for _, cam := range desired {
		if !cam.Enabled {
			continue
		}
		seen[cam.ID] = struct{}{}
		active := f.sched.ActiveNow(cam.ID)
		f.sup.Start(cam, active)
		if active {
			full++
		} else {
			streamOnly++
		}
	}

	// Cameras that vanished from the configuration get torn down.
	for id := range f.sup.Modes() {
		if _, ok := seen[id]; !ok {
			log.Printf("[Fleet] cctv %d no longer configured, stopping", id)
			f.sup.Stop(id)
		}
	}

	if f.met != nil {
		f.met.SetPipelines(full, streamOnly)
	}
}
