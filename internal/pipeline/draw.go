package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Overlay text sizes, chosen to stay legible after the browser scales the
// preview down.
const (
	labelFontSize       = 13
	bannerFontSize      = 19
	placeholderFontSize = 32
)

var overlayFont *truetype.Font

func init() {
	var err error
	overlayFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

func fontFace(size float64) font.Face {
	return truetype.NewFace(overlayFont, &truetype.Options{Size: size})
}

// DecodeJPEG decodes an encoded frame.
func DecodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// EncodeJPEG encodes an image at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewCanvas wraps a decoded frame in a drawing context. The context owns a
// copy, so the source image stays clean for cropping.
func NewCanvas(img image.Image) *gg.Context {
	return gg.NewContextForImage(img)
}

// DrawBox strokes a detection bounding box.
func DrawBox(dc *gg.Context, x1, y1, x2, y2 float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	dc.Stroke()
}

// DrawLabel writes a small class label with its baseline at (x, y).
func DrawLabel(dc *gg.Context, x, y float64, text string, c color.Color) {
	dc.SetFontFace(fontFace(labelFontSize))
	dc.SetColor(c)
	dc.DrawString(text, x, y)
}

// DrawPolyline strokes a closed polygon through the given points.
func DrawPolyline(dc *gg.Context, pts [][2]float64, c color.Color, width float64) {
	if len(pts) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0][0], pts[0][1])
	for _, p := range pts[1:] {
		dc.LineTo(p[0], p[1])
	}
	dc.ClosePath()
	dc.Stroke()
}

// DrawBanner writes a status line near the bottom-left corner of the canvas.
func DrawBanner(dc *gg.Context, text string) {
	dc.SetFontFace(fontFace(bannerFontSize))
	dc.SetColor(color.White)
	dc.DrawString(text, 20, float64(dc.Height())-20)
}

var placeholderCache struct {
	mu    sync.Mutex
	byKey map[string][]byte
}

// placeholderJPEG renders a 640x480 black frame with centered status text
// and caches the encoded bytes. Placeholders are served repeatedly while a
// stream is down, so they are built once.
func placeholderJPEG(text string, c color.Color) []byte {
	placeholderCache.mu.Lock()
	defer placeholderCache.mu.Unlock()
	if placeholderCache.byKey == nil {
		placeholderCache.byKey = make(map[string][]byte)
	}
	if b, ok := placeholderCache.byKey[text]; ok {
		return b
	}

	dc := gg.NewContext(640, 480)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetFontFace(fontFace(placeholderFontSize))
	dc.SetColor(c)
	dc.DrawStringAnchored(text, 320, 240, 0.5, 0.5)

	b, err := EncodeJPEG(dc.Image(), 80)
	if err != nil {
		// Encoding a freshly rendered RGBA cannot fail; keep the map clean
		// and let the caller publish nothing.
		return nil
	}
	placeholderCache.byKey[text] = b
	return b
}

// PlaceholderInitializing is seeded into both slots when a pipeline starts.
func PlaceholderInitializing() []byte {
	return placeholderJPEG("Initializing...", color.White)
}

// PlaceholderStreamFailed is published when the capture worker gives up a
// connection attempt.
func PlaceholderStreamFailed() []byte {
	return placeholderJPEG("Stream Failed", color.RGBA{R: 255, A: 255})
}

// PlaceholderFreeze is served by the preview when both slots have gone stale.
func PlaceholderFreeze() []byte {
	return placeholderJPEG("Camera Freeze", color.White)
}
