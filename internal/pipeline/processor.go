package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/events"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
	"github.com/technosupport/ppe-sentinel/internal/storage"
)

// polaroidStripHeight is the white band under the crop that carries the
// class / time / location caption.
const polaroidStripHeight = 80

const processTimeout = 30 * time.Second

// EvidenceUploader stores one encoded polaroid and returns its public URL.
type EvidenceUploader interface {
	Upload(ctx context.Context, data []byte, contentType, objectPath string) (string, error)
}

// ViolationRecorder persists the event row and bumps the daily counter.
type ViolationRecorder interface {
	Insert(ctx context.Context, cctvID, classID int64, imageURL string, ts time.Time) (int64, error)
	UpsertDailyRollup(ctx context.Context, logDate time.Time, cctvID, classID int64, ts time.Time) error
}

// EventPublisher fans a recorded violation out to live consumers (message
// bus, dashboard sockets). Failures must not undo the DB write.
type EventPublisher interface {
	PublishViolation(msg events.ViolationMessage) error
}

// AutoNotifier sends the per-event email when the deployment has auto
// mail enabled. Implementations decide that themselves and log their own
// failures.
type AutoNotifier interface {
	AutoNotify(ctx context.Context, violationID int64)
}

// ProcessorConfig sizes the background pool that runs the upload + record
// chain off the detection hot path.
type ProcessorConfig struct {
	Workers   int
	QueueSize int
	Location  *time.Location
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Processor turns accepted detections into evidence: crop, polaroid, upload,
// DB row, rollup, bus publish and optional email. Submit never blocks the
// detection worker; everything downstream runs on a fixed pool.
type Processor struct {
	cfg        ProcessorConfig
	uploader   EvidenceUploader
	recorder   ViolationRecorder
	publishers []EventPublisher
	notifier   AutoNotifier
	settings   *camconfig.Settings
	met        *metrics.Metrics

	queue chan Violation
	quit  chan struct{}
	wg    sync.WaitGroup
}

func NewProcessor(cfg ProcessorConfig, uploader EvidenceUploader, recorder ViolationRecorder,
	settings *camconfig.Settings, met *metrics.Metrics, notifier AutoNotifier, publishers ...EventPublisher) *Processor {

	cfg = cfg.withDefaults()
	return &Processor{
		cfg:        cfg,
		uploader:   uploader,
		recorder:   recorder,
		publishers: publishers,
		notifier:   notifier,
		settings:   settings,
		met:        met,
		queue:      make(chan Violation, cfg.QueueSize),
		quit:       make(chan struct{}),
	}
}

func (p *Processor) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop drains nothing: queued events are abandoned, which is acceptable
// because the pipeline is at-least-once upstream of the DB.
func (p *Processor) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// Submit hands one accepted event to the pool. Returns false when the pool
// is saturated; the caller already updated the cooldown, so the event is
// simply lost.
func (p *Processor) Submit(v Violation) bool {
	select {
	case p.queue <- v:
		return true
	default:
		p.met.ProcessorDrop()
		log.Printf("[CCTV %d] processor queue full, dropping %s event", v.CctvID, v.ClassName)
		return false
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case v := <-p.queue:
			p.process(v)
		}
	}
}

// process runs the full chain for one event. Upload failure aborts the DB
// writes; everything after the insert is best-effort.
func (p *Processor) process(v Violation) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	jpeg, err := p.BuildPolaroid(v)
	if err != nil {
		log.Printf("[CCTV %d] polaroid build failed: %v", v.CctvID, err)
		return
	}

	local := v.TS.In(p.cfg.Location)
	objectPath := storage.EvidencePath(v.CctvID, v.ClassName, local)
	url, err := p.uploader.Upload(ctx, jpeg, "image/jpeg", objectPath)
	if err != nil {
		p.met.UploadFailure()
		log.Printf("[CCTV %d] evidence upload failed: %v", v.CctvID, err)
		return
	}

	id, err := p.recorder.Insert(ctx, v.CctvID, v.ClassID, url, local)
	if err != nil {
		// The object stays in storage; the retention job collects it.
		log.Printf("[CCTV %d] violation insert failed: %v", v.CctvID, err)
		return
	}
	log.Printf("[CCTV %d] violation %d recorded (%s)", v.CctvID, id, v.ClassName)

	logDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.cfg.Location)
	if err := p.recorder.UpsertDailyRollup(ctx, logDate, v.CctvID, v.ClassID, local); err != nil {
		log.Printf("[CCTV %d] daily rollup failed: %v", v.CctvID, err)
	}

	msg := events.ViolationMessage{
		EventID:   id,
		CctvID:    v.CctvID,
		ClassID:   v.ClassID,
		ClassName: v.ClassName,
		ImageURL:  url,
		TS:        local,
		TrackID:   v.TrackID,
	}
	for _, pub := range p.publishers {
		if pub == nil {
			continue
		}
		if err := pub.PublishViolation(msg); err != nil {
			log.Printf("[CCTV %d] event publish failed: %v", v.CctvID, err)
		}
	}

	if p.notifier != nil {
		p.notifier.AutoNotify(ctx, id)
	}
}

// BuildPolaroid crops the detection out of the clean frame, upscales small
// crops, and pads the caption strip underneath. Returns the encoded JPEG.
func (p *Processor) BuildPolaroid(v Violation) ([]byte, error) {
	img, err := DecodeJPEG(v.Frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	b := img.Bounds()
	x1, y1, x2, y2 := PadClamp(v.X1, v.Y1, v.X2, v.Y2, p.settings.PaddingPercent(), b.Dx(), b.Dy())
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil, fmt.Errorf("empty crop after clamping")
	}

	crop := cropImage(img, image.Rect(b.Min.X+x1, b.Min.Y+y1, b.Min.X+x2, b.Min.Y+y2))
	if target := p.settings.TargetMaxWidth(); crop.Bounds().Dx() < target {
		crop = upscaleToWidth(crop, target)
	}

	local := v.TS.In(p.cfg.Location)
	polaroid := ComposePolaroid(crop, v.ClassName, local, v.Location)
	return EncodeJPEG(polaroid, 85)
}

// ComposePolaroid renders the evidence card: the crop on top, a white strip
// with class name, timestamp and camera location below.
func ComposePolaroid(crop image.Image, className string, ts time.Time, location string) image.Image {
	w := crop.Bounds().Dx()
	h := crop.Bounds().Dy()

	dc := gg.NewContext(w, h+polaroidStripHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.DrawImage(crop, 0, 0)

	if location == "" {
		location = "Unknown"
	}
	lines := []string{
		strings.ToUpper(className),
		ts.Format("2006-01-02 15:04:05"),
		location,
	}

	dc.SetFontFace(fontFace(labelFontSize))
	dc.SetRGB(0, 0, 0)
	y := float64(h) + 20
	for _, line := range lines {
		dc.DrawString(line, 10, y)
		y += 22
	}
	return dc.Image()
}

// cropImage extracts a rectangle from a decoded frame. JPEG decoding yields
// subimage-capable types, but the fallback copy keeps arbitrary sources safe.
func cropImage(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, r.Min, xdraw.Src)
	return dst
}

// upscaleToWidth scales the crop proportionally so tiny detections stay
// readable in the evidence card.
func upscaleToWidth(img image.Image, targetW int) image.Image {
	b := img.Bounds()
	if b.Dx() <= 0 {
		return img
	}
	scale := float64(targetW) / float64(b.Dx())
	targetH := int(float64(b.Dy()) * scale)
	if targetH <= 0 {
		targetH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
