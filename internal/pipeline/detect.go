package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"time"

	"github.com/fogleman/gg"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/classcache"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
)

var regionColor = color.RGBA{R: 255, A: 255}

// SchedulePoller reports whether a camera's schedule allows detection right
// now.
type SchedulePoller interface {
	ActiveNow(cctvID int64) bool
}

// ActiveSetSource yields the violation class ids the operator activated for
// a camera.
type ActiveSetSource interface {
	ActiveSet(cctvID int64) map[int64]struct{}
}

// Violation carries everything the processor needs to build and record one
// event. Frame is the clean source JPEG, without overlays.
type Violation struct {
	CctvID    int64
	CctvName  string
	Location  string
	Frame     []byte
	X1, Y1    float64
	X2, Y2    float64
	ClassName string
	ClassID   int64
	Conf      float64
	TrackID   int
	TS        time.Time
}

// ViolationSink accepts events for asynchronous processing. Submit must not
// block; it reports whether the event was taken.
type ViolationSink interface {
	Submit(v Violation) bool
}

// DetectionMirror publishes the latest detection summary per camera to a
// shared store. Best effort.
type DetectionMirror interface {
	MirrorDetections(ctx context.Context, cctvID int64, dets []TrackedDetection)
}

// DetectWorkerConfig bundles the dependencies for one detection worker.
type DetectWorkerConfig struct {
	Camera   camconfig.CameraConfig
	Queue    <-chan Frame
	Slots    *CameraFrames
	Detector TrackingDetector
	Classes  *classcache.Cache
	Active   ActiveSetSource
	Schedule SchedulePoller
	Settings *camconfig.Settings
	Tracks   *TrackTable
	Sink     ViolationSink
	Metrics  *metrics.Metrics
	Mirror   DetectionMirror
}

// DetectWorker consumes captured frames, draws overlays, and walks every
// tracked detection through the violation policy chain. It re-evaluates the
// schedule and active-class state on every frame, so a camera that leaves
// its window degrades to stream-only immediately even before the fleet
// supervisor converges.
type DetectWorker struct {
	cam      camconfig.CameraConfig
	queue    <-chan Frame
	slots    *CameraFrames
	detector TrackingDetector
	classes  *classcache.Cache
	active   ActiveSetSource
	sched    SchedulePoller
	settings *camconfig.Settings
	tracks   *TrackTable
	sink     ViolationSink
	met      *metrics.Metrics
	mirror   DetectionMirror
}

func NewDetectWorker(cfg DetectWorkerConfig) *DetectWorker {
	return &DetectWorker{
		cam:      cfg.Camera,
		queue:    cfg.Queue,
		slots:    cfg.Slots,
		detector: cfg.Detector,
		classes:  cfg.Classes,
		active:   cfg.Active,
		sched:    cfg.Schedule,
		settings: cfg.Settings,
		tracks:   cfg.Tracks,
		sink:     cfg.Sink,
		met:      cfg.Metrics,
		mirror:   cfg.Mirror,
	}
}

func (w *DetectWorker) Run(stop <-chan struct{}) {
	log.Printf("[CCTV %d] detection worker started", w.cam.ID)
	defer log.Printf("[CCTV %d] detection worker stopped", w.cam.ID)

	for {
		select {
		case <-stop:
			return
		case f := <-w.queue:
			w.ProcessFrame(f)
		}
	}
}

// ProcessFrame runs one full tick: overlays, mode decision, inference and
// the per-detection policy chain. Any failure publishes whatever overlay
// state exists so the preview keeps moving.
func (w *DetectWorker) ProcessFrame(f Frame) {
	img, err := DecodeJPEG(f.Data)
	if err != nil {
		log.Printf("[CCTV %d] frame decode failed: %v", w.cam.ID, err)
		return
	}
	dc := NewCanvas(img)
	fw, fh := dc.Width(), dc.Height()

	roi := w.cam.ROI
	var regions [][][2]float64
	if roi != nil {
		sx, sy := ScaleFactors(roi.ImageWidth, roi.ImageHeight, fw, fh)
		regions = make([][][2]float64, len(roi.Items))
		for i, reg := range roi.Items {
			regions[i] = ScalePolygon(reg.Points, sx, sy)
			DrawPolyline(dc, regions[i], regionColor, 2)
		}
	}

	active := w.active.ActiveSet(w.cam.ID)
	full, banner := w.mode(roi, active)
	if !full {
		DrawBanner(dc, banner)
		w.publish(dc)
		return
	}

	start := time.Now()
	dets, err := w.detector.DetectTracked(img, w.settings.ConfidenceThreshold())
	if err != nil {
		log.Printf("[CCTV %d] inference failed: %v", w.cam.ID, err)
		w.publish(dc)
		return
	}
	w.met.DetectorRun(w.cam.ID, time.Since(start).Seconds())

	ctx := context.Background()
	cooldown := w.settings.Cooldown()
	for _, d := range dets {
		r, g, b := w.classes.Color(ctx, d.ClassName)
		col := color.RGBA{R: r, G: g, B: b, A: 255}
		DrawBox(dc, d.X1, d.Y1, d.X2, d.Y2, col, 2)
		labelY := d.Y1 - 10
		if labelY < 10 {
			labelY = 10
		}
		DrawLabel(dc, d.X1, labelY, fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence), col)

		cls, known := w.classes.Lookup(ctx, d.ClassName)
		if !known || !cls.IsViolation {
			continue
		}
		if _, on := active[cls.ID]; !on {
			continue
		}

		cx, cy := BoxCenter(d.Detection)
		regIdx := -1
		for i := range regions {
			if PointInPolygon(cx, cy, regions[i]) {
				regIdx = i
				break
			}
		}
		if regIdx < 0 {
			continue
		}
		if !roi.Items[regIdx].Allows(cls.ID) {
			continue
		}

		if !w.tracks.ShouldEmit(d.TrackID, d.ClassName, time.Now(), cooldown) {
			w.met.ViolationSuppressed(w.cam.ID)
			continue
		}

		v := Violation{
			CctvID:    w.cam.ID,
			CctvName:  w.cam.Name,
			Location:  w.cam.Location,
			Frame:     f.Data,
			X1:        d.X1,
			Y1:        d.Y1,
			X2:        d.X2,
			Y2:        d.Y2,
			ClassName: d.ClassName,
			ClassID:   cls.ID,
			Conf:      d.Confidence,
			TrackID:   d.TrackID,
			TS:        f.TS,
		}
		if w.sink.Submit(v) {
			w.met.ViolationEmitted(w.cam.ID, d.ClassName)
			log.Printf("[CCTV %d] violation %s track=%d conf=%.2f", w.cam.ID, d.ClassName, d.TrackID, d.Confidence)
		}
	}

	if w.mirror != nil {
		w.mirror.MirrorDetections(ctx, w.cam.ID, dets)
	}
	w.publish(dc)
}

// mode decides full vs stream-only for this tick. The banner text mirrors
// what the operator sees on the preview.
func (w *DetectWorker) mode(roi *camconfig.ROIConfig, active map[int64]struct{}) (full bool, banner string) {
	switch {
	case !w.sched.ActiveNow(w.cam.ID):
		return false, "STREAMING ONLY (Outside Schedule)"
	case roi == nil || len(roi.Items) == 0:
		return false, "STREAMING ONLY (No ROI set)"
	case len(active) == 0:
		return false, "STREAMING ONLY (No Active Classes)"
	}
	return true, ""
}

func (w *DetectWorker) publish(dc *gg.Context) {
	data, err := EncodeJPEG(dc.Image(), 80)
	if err != nil {
		log.Printf("[CCTV %d] annotated encode failed: %v", w.cam.ID, err)
		return
	}
	w.slots.Annotated.Set(data, time.Now())
}
