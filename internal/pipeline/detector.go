package pipeline

import (
	"image"
)

// Detection is one raw detector box in the pixel space of the inferred frame.
type Detection struct {
	X1, Y1, X2, Y2 float64
	ClassName      string
	Confidence     float64
}

// TrackedDetection is a detection with a persistent tracker id. Ids survive
// across frames for as long as the tracker keeps matching the object.
type TrackedDetection struct {
	Detection
	TrackID int
}

// Detector is the inference backend contract
type Detector interface {
	// Detect runs the model on a frame and returns boxes above the
	// configured confidence threshold
	Detect(img image.Image, confThreshold float64) ([]Detection, error)

	// Close releases backend resources
	Close() error
}

// TrackingDetector produces detections with persistent track ids.
// The detection worker only consumes this shape; tests inject a scripted
// implementation directly.
type TrackingDetector interface {
	DetectTracked(img image.Image, confThreshold float64) ([]TrackedDetection, error)
	Close() error
}

// trackedDetector composes a raw Detector with the IoU tracker.
type trackedDetector struct {
	det Detector
	trk *Tracker
}

// NewTrackingDetector wraps a detector with per-instance tracking state.
// Each detection worker owns its own instance; the tracker table is not
// safe for shared use.
func NewTrackingDetector(det Detector) TrackingDetector {
	return &trackedDetector{det: det, trk: NewTracker()}
}

func (t *trackedDetector) DetectTracked(img image.Image, confThreshold float64) ([]TrackedDetection, error) {
	dets, err := t.det.Detect(img, confThreshold)
	if err != nil {
		return nil, err
	}
	return t.trk.Update(dets), nil
}

func (t *trackedDetector) Close() error {
	return t.det.Close()
}
