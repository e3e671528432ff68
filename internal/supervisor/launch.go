package supervisor

import (
	"log"
	"sync"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/classcache"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

// PipelineDeps bundles everything a camera worker set needs. Launch is the
// production LaunchFunc handed to New.
type PipelineDeps struct {
	Frames          *pipeline.Frames
	Settings        *camconfig.Settings
	Classes         *classcache.Cache
	Active          pipeline.ActiveSetSource
	Schedule        pipeline.SchedulePoller
	Sink            pipeline.ViolationSink
	Metrics         *metrics.Metrics
	FrameMirror     pipeline.FrameMirror
	DetectionMirror pipeline.DetectionMirror
	Capture         pipeline.CaptureConfig

	// NewDetector builds a fresh inference backend per camera. May fail,
	// e.g. when the model file is gone; the camera then runs stream-only.
	NewDetector func() (pipeline.TrackingDetector, error)
}

// Launch starts the capture worker, and in full mode the detection worker
// plus its cooldown sweeper, all sharing one stop channel.
func (d PipelineDeps) Launch(cam camconfig.CameraConfig, full bool, stop <-chan struct{}) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	slots := d.Frames.Slots(cam.ID)

	queue := make(chan pipeline.Frame, d.Settings.QueueSize())
	capture := pipeline.NewCaptureWorker(cam, slots, queue, d.Settings, d.Capture, d.Metrics, d.FrameMirror)
	wg.Add(1)
	go func() {
		defer wg.Done()
		capture.Run(stop)
	}()

	if !full {
		return wg
	}

	detector, err := d.NewDetector()
	if err != nil {
		log.Printf("[Supervisor] cctv %d detector unavailable, running stream-only: %v", cam.ID, err)
		return wg
	}

	tracks := pipeline.NewTrackTable()
	worker := pipeline.NewDetectWorker(pipeline.DetectWorkerConfig{
		Camera:   cam,
		Queue:    queue,
		Slots:    slots,
		Detector: detector,
		Classes:  d.Classes,
		Active:   d.Active,
		Schedule: d.Schedule,
		Settings: d.Settings,
		Tracks:   tracks,
		Sink:     d.Sink,
		Metrics:  d.Metrics,
		Mirror:   d.DetectionMirror,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer detector.Close()
		worker.Run(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracks.RunCleanup(stop, cam.ID, d.Settings)
	}()

	return wg
}
