package camconfig

import (
	"encoding/json"
	"fmt"
)

// ROIConfig is the set of drawn regions for one camera, in the pixel space
// of the image they were drawn on. At stream time points are scaled by
// (frameW/ImageWidth, frameH/ImageHeight).
type ROIConfig struct {
	ImageWidth  float64  `json:"image_width"`
	ImageHeight float64  `json:"image_height"`
	Items       []Region `json:"items"`
}

// Region is one polygon or line. An empty AllowedViolations means "any
// class the operator activated for this camera".
type Region struct {
	Type              string       `json:"type"`
	Points            [][2]float64 `json:"points"`
	AllowedViolations []int64      `json:"allowed_violations,omitempty"`
	Name              string       `json:"name,omitempty"`
}

// ParseROI decodes the ROI document. Rejects documents with no usable
// regions so callers can fall back to stream-only mode.
func ParseROI(raw []byte) (*ROIConfig, error) {
	var cfg ROIConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("roi: decode: %w", err)
	}
	if cfg.ImageWidth <= 0 || cfg.ImageHeight <= 0 {
		return nil, fmt.Errorf("roi: missing image dimensions")
	}
	valid := cfg.Items[:0]
	for _, it := range cfg.Items {
		if len(it.Points) >= 2 {
			valid = append(valid, it)
		}
	}
	cfg.Items = valid
	if len(cfg.Items) == 0 {
		return nil, fmt.Errorf("roi: no regions")
	}
	return &cfg, nil
}

// Allows reports whether a class id counts as a violation inside the region.
func (r *Region) Allows(classID int64) bool {
	if len(r.AllowedViolations) == 0 {
		return true
	}
	for _, id := range r.AllowedViolations {
		if id == classID {
			return true
		}
	}
	return false
}
