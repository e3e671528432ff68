package pipeline

// Tracker assigns persistent ids to detections across frames by greedy IoU
// matching against the previous frame's tracks. Unmatched detections open
// new tracks; tracks unseen for maxAge frames are dropped.
type Tracker struct {
	nextID int
	tracks []track
	maxAge int
	minIoU float64
}

type track struct {
	id     int
	box    [4]float64
	class  string
	missed int
}

func NewTracker() *Tracker {
	return &Tracker{nextID: 1, maxAge: 30, minIoU: 0.3}
}

// Update matches the new detections against live tracks and returns them
// with ids assigned. Matching is greedy best-IoU-first within the same
// class name.
func (t *Tracker) Update(dets []Detection) []TrackedDetection {
	out := make([]TrackedDetection, 0, len(dets))
	claimed := make([]bool, len(t.tracks))
	assigned := make([]int, len(dets))
	for i := range assigned {
		assigned[i] = -1
	}

	// Greedy pass: repeatedly take the best remaining (track, detection) pair.
	for {
		bestIoU := t.minIoU
		bestT, bestD := -1, -1
		for ti, tr := range t.tracks {
			if claimed[ti] {
				continue
			}
			for di, d := range dets {
				if assigned[di] >= 0 || d.ClassName != tr.class {
					continue
				}
				iou := boxIoU(tr.box, [4]float64{d.X1, d.Y1, d.X2, d.Y2})
				if iou > bestIoU {
					bestIoU, bestT, bestD = iou, ti, di
				}
			}
		}
		if bestT < 0 {
			break
		}
		claimed[bestT] = true
		assigned[bestD] = t.tracks[bestT].id
		t.tracks[bestT].box = [4]float64{dets[bestD].X1, dets[bestD].Y1, dets[bestD].X2, dets[bestD].Y2}
		t.tracks[bestT].missed = 0
	}

	// Unmatched detections open new tracks.
	for di, d := range dets {
		if assigned[di] < 0 {
			id := t.nextID
			t.nextID++
			t.tracks = append(t.tracks, track{
				id:    id,
				box:   [4]float64{d.X1, d.Y1, d.X2, d.Y2},
				class: d.ClassName,
			})
			assigned[di] = id
		}
		out = append(out, TrackedDetection{Detection: d, TrackID: assigned[di]})
	}

	// Age out pre-existing tracks that found no detection this frame; tracks
	// opened above sit past the end of claimed and are left alone.
	alive := t.tracks[:0]
	for ti, tr := range t.tracks {
		if ti < len(claimed) && !claimed[ti] {
			tr.missed++
		}
		if tr.missed <= t.maxAge {
			alive = append(alive, tr)
		}
	}
	t.tracks = alive

	return out
}

func boxIoU(a, b [4]float64) float64 {
	ix1 := maxF(a[0], b[0])
	iy1 := maxF(a[1], b[1])
	ix2 := minF(a[2], b[2])
	iy2 := minF(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
