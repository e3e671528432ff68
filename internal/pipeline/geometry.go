package pipeline

// PointInPolygon reports whether the point (x, y) lies inside the polygon
// using the even-odd ray casting rule. Points on an edge may fall on either
// side; region boundaries are not treated specially.
func PointInPolygon(x, y float64, poly [][2]float64) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	p1x, p1y := poly[0][0], poly[0][1]
	for i := 1; i <= n; i++ {
		p2x, p2y := poly[i%n][0], poly[i%n][1]
		if y > minF(p1y, p2y) && y <= maxF(p1y, p2y) && x <= maxF(p1x, p2x) {
			var xinters float64
			if p1y != p2y {
				xinters = (y-p1y)*(p2x-p1x)/(p2y-p1y) + p1x
			}
			if p1x == p2x || x <= xinters {
				inside = !inside
			}
		}
		p1x, p1y = p2x, p2y
	}
	return inside
}

// BoxCenter returns the midpoint of a detection box.
func BoxCenter(d Detection) (float64, float64) {
	return (d.X1 + d.X2) / 2, (d.Y1 + d.Y2) / 2
}

// ScaleFactors maps coordinates drawn on a reference image of roiW x roiH
// onto a frame of frameW x frameH. Degenerate reference dimensions scale 1:1.
func ScaleFactors(roiW, roiH float64, frameW, frameH int) (sx, sy float64) {
	sx, sy = 1, 1
	if roiW > 0 {
		sx = float64(frameW) / roiW
	}
	if roiH > 0 {
		sy = float64(frameH) / roiH
	}
	return sx, sy
}

// ScalePolygon returns a copy of points with both axes scaled.
func ScalePolygon(points [][2]float64, sx, sy float64) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p[0] * sx, p[1] * sy}
	}
	return out
}

// PadClamp grows a box by padding times its width and height on each side,
// then clamps the result to the frame. A box that collapses to zero area
// after clamping is returned as-is for the caller to reject.
func PadClamp(x1, y1, x2, y2, padding float64, frameW, frameH int) (int, int, int, int) {
	padX := (x2 - x1) * padding
	padY := (y2 - y1) * padding
	ix1 := clampInt(int(x1-padX), 0, frameW)
	iy1 := clampInt(int(y1-padY), 0, frameH)
	ix2 := clampInt(int(x2+padX), 0, frameW)
	iy2 := clampInt(int(y2+padY), 0, frameH)
	return ix1, iy1, ix2, iy2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
