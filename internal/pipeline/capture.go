package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
)

const (
	maxFrameBytes = 16 << 20
	maxBackoff    = 60 * time.Second
	watchdogTick  = 5 * time.Second
	watchdogStall = 15 * time.Second
)

// Frame is one captured image travelling from the capture worker to the
// detection worker. Data is an encoded JPEG owned by the receiver.
type Frame struct {
	Data []byte
	TS   time.Time
}

// FrameSource yields encoded frames from one open stream connection.
type FrameSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// SourceOpener dials a stream URL. The production opener launches an ffmpeg
// subprocess; tests substitute scripted sources.
type SourceOpener func(ctx context.Context, url string) (FrameSource, error)

// FrameMirror fans the latest raw frame out to a shared store so sibling
// processes can serve previews. Implementations log their own failures and
// must return quickly.
type FrameMirror interface {
	MirrorFrame(ctx context.Context, cctvID int64, jpeg []byte)
}

// CaptureConfig carries the knobs fixed for the lifetime of one worker.
type CaptureConfig struct {
	FFmpegPath       string
	RetryDelay       time.Duration
	MaxRetries       int
	FailureThreshold int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	return c
}

// CaptureWorker owns the decoder side of one camera pipeline. It keeps the
// raw slot fresh on every good frame, feeds the bounded detection queue
// every frame_skip frames, and reconnects with exponential backoff when the
// stream dies.
type CaptureWorker struct {
	cam      camconfig.CameraConfig
	slots    *CameraFrames
	queue    chan<- Frame
	settings *camconfig.Settings
	cfg      CaptureConfig
	met      *metrics.Metrics
	mirror   FrameMirror
	open     SourceOpener
	probe    func(ctx context.Context, url string) error
}

func NewCaptureWorker(cam camconfig.CameraConfig, slots *CameraFrames, queue chan<- Frame,
	settings *camconfig.Settings, cfg CaptureConfig, met *metrics.Metrics, mirror FrameMirror) *CaptureWorker {

	cfg = cfg.withDefaults()
	w := &CaptureWorker{
		cam:      cam,
		slots:    slots,
		queue:    queue,
		settings: settings,
		cfg:      cfg,
		met:      met,
		mirror:   mirror,
	}
	w.open = func(ctx context.Context, url string) (FrameSource, error) {
		return OpenFFmpeg(ctx, cfg.FFmpegPath, url)
	}
	w.probe = ProbeStream
	return w
}

// Run drives connect, pump and reconnect until stop closes. The attempt
// counter resets whenever a connection delivers at least one frame; after
// MaxRetries consecutive dead attempts the worker exits and leaves restart
// duty to the supervisor's next sweep.
func (w *CaptureWorker) Run(stop <-chan struct{}) {
	log.Printf("[CCTV %d] capture worker started", w.cam.ID)
	defer log.Printf("[CCTV %d] capture worker stopped", w.cam.ID)

	attempt := 0
	for {
		if stopRequested(stop) {
			return
		}

		delivered := w.runOnce(stop)
		if stopRequested(stop) {
			return
		}
		if delivered {
			attempt = 0
		} else {
			attempt++
		}

		w.publishFailure()
		if attempt >= w.cfg.MaxRetries {
			log.Printf("[CCTV %d] capture giving up after %d dead attempts", w.cam.ID, attempt)
			return
		}
		delay := backoffDelay(w.cfg.RetryDelay, attempt)
		log.Printf("[CCTV %d] reconnecting in %s", w.cam.ID, delay)
		if !sleepOrStop(stop, delay) {
			return
		}
	}
}

// runOnce opens the stream and pumps frames until stop closes or the
// consecutive-failure threshold trips. The secure URL is tried first; a
// connection that never produces a frame falls through to plain rtsp on the
// shifted port.
func (w *CaptureWorker) runOnce(stop <-chan struct{}) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, url := range []string{w.cam.StreamURL(), w.cam.FallbackURL()} {
		if w.probe != nil {
			probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
			err := w.probe(probeCtx, url)
			probeCancel()
			if err != nil {
				log.Printf("[CCTV %d] probe %s: %v", w.cam.ID, url, err)
				continue
			}
		}
		src, err := w.open(ctx, url)
		if err != nil {
			log.Printf("[CCTV %d] open %s: %v", w.cam.ID, url, err)
			continue
		}
		delivered := w.pump(ctx, stop, src)
		src.Close()
		if delivered || stopRequested(stop) {
			return delivered
		}
		log.Printf("[CCTV %d] no frames from %s, trying fallback", w.cam.ID, url)
	}
	return false
}

func (w *CaptureWorker) pump(ctx context.Context, stop <-chan struct{}, src FrameSource) bool {
	delivered := false
	failures := 0
	frameIdx := 0

	for {
		if stopRequested(stop) {
			return delivered
		}

		data, err := src.ReadFrame()
		if err != nil {
			failures++
			if failures > w.cfg.FailureThreshold {
				log.Printf("[CCTV %d] %d consecutive read failures: %v", w.cam.ID, failures, err)
				return delivered
			}
			continue
		}
		failures = 0
		delivered = true

		now := time.Now()
		w.slots.Raw.Set(data, now)
		if w.mirror != nil {
			w.mirror.MirrorFrame(ctx, w.cam.ID, data)
		}
		w.met.FrameCaptured(w.cam.ID)

		frameIdx++
		if frameIdx%w.settings.FrameSkip() == 0 {
			select {
			case w.queue <- Frame{Data: data, TS: now}:
			default:
				w.met.FrameDropped(w.cam.ID)
			}
			w.met.QueueDepth(w.cam.ID, len(w.queue))
		}
	}
}

func (w *CaptureWorker) publishFailure() {
	w.slots.Seed(PlaceholderStreamFailed(), time.Now())
	w.met.StreamFailure(w.cam.ID)
}

// backoffDelay returns base * 2^attempt, capped so a flapping camera does
// not sleep unbounded.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// ffmpegArgs builds the image2pipe decode command. TCP transport is forced;
// UDP delivery loses slices behind NAT and the sources here cannot do
// UDP-only anyway.
func ffmpegArgs(url string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

type ffmpegSource struct {
	cmd       *exec.Cmd
	br        *bufio.Reader
	lastRead  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// OpenFFmpeg launches the decode subprocess for url. The returned source
// yields one JPEG per ReadFrame, split on the SOI/EOI markers in the pipe.
// A watchdog kills the subprocess when no frame arrives for a while, which
// surfaces a wedged connection as a read error.
func OpenFFmpeg(ctx context.Context, ffmpegPath, url string) (FrameSource, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(url)...)
	cmd.Stderr = io.Discard
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &ffmpegSource{
		cmd:  cmd,
		br:   bufio.NewReaderSize(stdout, 1<<20),
		done: make(chan struct{}),
	}
	s.lastRead.Store(time.Now().UnixNano())
	go s.watchdog()
	return s, nil
}

func (s *ffmpegSource) watchdog() {
	t := time.NewTicker(watchdogTick)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			last := time.Unix(0, s.lastRead.Load())
			if time.Since(last) > watchdogStall {
				// A wedged decoder never returns from Read. Kill the
				// process so the blocked read fails and the reconnect
				// path takes over.
				if s.cmd.Process != nil {
					_ = s.cmd.Process.Kill()
				}
				return
			}
		}
	}
}

// ReadFrame scans the pipe for the next SOI marker and accumulates bytes
// through the matching EOI. Stuffed 0xFF00 bytes inside entropy-coded data
// mean a literal FFD9 only ever appears at the end of a frame.
func (s *ffmpegSource) ReadFrame() ([]byte, error) {
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		nb, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if nb == 0xD8 {
			break
		}
		if nb == 0xFF {
			if err := s.br.UnreadByte(); err != nil {
				return nil, err
			}
		}
	}

	buf := make([]byte, 2, 64<<10)
	buf[0], buf[1] = 0xFF, 0xD8
	prev := byte(0)
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if prev == 0xFF && b == 0xD9 {
			s.lastRead.Store(time.Now().UnixNano())
			return buf, nil
		}
		if len(buf) > maxFrameBytes {
			return nil, errors.New("frame exceeds size limit, stream corrupt")
		}
		prev = b
	}
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}
