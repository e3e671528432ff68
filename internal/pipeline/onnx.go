package pipeline

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	xdraw "golang.org/x/image/draw"
)

const (
	defaultInputSize = 640
	nmsIoUThreshold  = 0.45

	// letterboxFill is the gray used to pad the input to a square, matching
	// how the model was trained.
	letterboxFill = 114
)

var ortInit struct {
	once sync.Once
	err  error
}

// InitONNXRuntime loads the runtime shared library once per process. libPath
// may be empty, in which case the loader falls back to the platform default
// name on the library search path.
func InitONNXRuntime(libPath string) error {
	ortInit.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

// LoadLabels reads the class list shipped next to the model, one name per
// line. The line index is the model's class id.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", path)
	}
	return labels, nil
}

// ONNXDetector runs a YOLO model through onnxruntime. One instance per
// camera; Detect serializes access to the session.
type ONNXDetector struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	labels    []string
	inputName string
	inputSize int
}

// NewONNXDetector opens the model and inspects its input to pick the square
// input resolution. InitONNXRuntime must have succeeded first.
func NewONNXDetector(modelPath string, labels []string) (*ONNXDetector, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s: missing input or output", modelPath)
	}

	size := defaultInputSize
	dims := inputs[0].Dimensions
	if len(dims) == 4 && dims[2] > 0 {
		size = int(dims[2])
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", modelPath, err)
	}

	return &ONNXDetector{
		session:   session,
		labels:    labels,
		inputName: inputs[0].Name,
		inputSize: size,
	}, nil
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// Detect runs one frame through the model and returns NMS-filtered boxes in
// source image coordinates.
func (d *ONNXDetector) Detect(img image.Image, confThreshold float64) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, fmt.Errorf("detector closed")
	}

	rgba, lb := letterboxImage(img, d.inputSize)
	inputData := tensorFromImage(rgba)

	inputShape := ort.NewShape(1, 3, int64(d.inputSize), int64(d.inputSize))
	inputTensor, err := ort.NewTensor(inputShape, inputData)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		outputs[0].Destroy()
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer outTensor.Destroy()

	b := img.Bounds()
	dets := decodeYOLOOutput(outTensor.GetData(), outTensor.GetShape(),
		d.labels, confThreshold, lb, b.Dx(), b.Dy())
	return nonMaxSuppression(dets, nmsIoUThreshold), nil
}

// letterbox records how the source frame was fitted into the square model
// input so box coordinates can be mapped back.
type letterbox struct {
	scale      float64
	padX, padY float64
}

// letterboxImage scales the frame to fit size x size preserving aspect ratio
// and pads the rest with neutral gray.
func letterboxImage(img image.Image, size int) (*image.RGBA, letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := 1.0
	if w > 0 && h > 0 {
		scale = minF(float64(size)/float64(w), float64(size)/float64(h))
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	padX := float64(size-newW) / 2
	padY := float64(size-newH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range dst.Pix {
		if i%4 == 3 {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = letterboxFill
		}
	}
	target := image.Rect(int(padX), int(padY), int(padX)+newW, int(padY)+newH)
	xdraw.ApproxBiLinear.Scale(dst, target, img, b, xdraw.Src, nil)

	return dst, letterbox{scale: scale, padX: padX, padY: padY}
}

// tensorFromImage converts RGBA pixels into a CHW float32 tensor normalized
// to [0,1], RGB channel order.
func tensorFromImage(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	area := w * h
	data := make([]float32, 3*area)
	idx := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			data[idx] = float32(row[x*4]) / 255
			data[area+idx] = float32(row[x*4+1]) / 255
			data[2*area+idx] = float32(row[x*4+2]) / 255
			idx++
		}
	}
	return data
}

// decodeYOLOOutput parses the raw output tensor into detections in source
// image coordinates. Handles both the [1, attrs, boxes] layout exported by
// recent YOLO versions and the transposed [1, boxes, attrs] layout, and both
// heads with and without an objectness column.
func decodeYOLOOutput(data []float32, shape []int64, labels []string,
	confThreshold float64, lb letterbox, srcW, srcH int) []Detection {

	if len(shape) != 3 || len(data) == 0 {
		return nil
	}
	d1, d2 := int(shape[1]), int(shape[2])

	nc := len(labels)
	attrsFirst := d1 == nc+4 || d1 == nc+5
	attrs, boxes := d1, d2
	if !attrsFirst {
		attrs, boxes = d2, d1
	}
	if attrs < nc+4 {
		return nil
	}
	hasObjectness := attrs == nc+5

	at := func(box, attr int) float32 {
		if attrsFirst {
			return data[attr*boxes+box]
		}
		return data[box*attrs+attr]
	}

	var out []Detection
	for i := 0; i < boxes; i++ {
		obj := 1.0
		classBase := 4
		if hasObjectness {
			obj = float64(at(i, 4))
			classBase = 5
		}

		bestClass := -1
		bestScore := 0.0
		for c := 0; c < nc; c++ {
			score := float64(at(i, classBase+c)) * obj
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < confThreshold {
			continue
		}

		cx := float64(at(i, 0))
		cy := float64(at(i, 1))
		bw := float64(at(i, 2))
		bh := float64(at(i, 3))

		x1 := (cx - bw/2 - lb.padX) / lb.scale
		y1 := (cy - bh/2 - lb.padY) / lb.scale
		x2 := (cx + bw/2 - lb.padX) / lb.scale
		y2 := (cy + bh/2 - lb.padY) / lb.scale

		x1 = maxF(0, minF(x1, float64(srcW)))
		y1 = maxF(0, minF(y1, float64(srcH)))
		x2 = maxF(0, minF(x2, float64(srcW)))
		y2 = maxF(0, minF(y2, float64(srcH)))
		if x2-x1 <= 1 || y2-y1 <= 1 {
			continue
		}

		out = append(out, Detection{
			X1: x1, Y1: y1, X2: x2, Y2: y2,
			ClassName:  labels[bestClass],
			Confidence: bestScore,
		})
	}
	return out
}

// nonMaxSuppression keeps the highest-confidence box among heavy overlaps of
// the same class.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	suppressed := make([]bool, len(dets))
	out := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if suppressed[i] {
			continue
		}
		out = append(out, d)
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassName != d.ClassName {
				continue
			}
			iou := boxIoU([4]float64{d.X1, d.Y1, d.X2, d.Y2},
				[4]float64{dets[j].X1, dets[j].Y1, dets[j].X2, dets[j].Y2})
			if iou > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return out
}
