package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
)

type captureStep struct {
	data []byte
	err  error
}

// scriptedSource plays back a fixed sequence of reads, then returns io.EOF.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []captureStep
	closed bool
}

func (s *scriptedSource) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.data, st.err
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func framesScript(frames ...string) *scriptedSource {
	s := &scriptedSource{}
	for _, f := range frames {
		s.steps = append(s.steps, captureStep{data: []byte(f)})
	}
	return s
}

// openerScript hands out sources in order; a nil slot means "refuse".
type openerScript struct {
	mu   sync.Mutex
	urls []string
	srcs []FrameSource
}

func (o *openerScript) open(ctx context.Context, url string) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	if len(o.srcs) == 0 {
		return nil, errors.New("connection refused")
	}
	src := o.srcs[0]
	o.srcs = o.srcs[1:]
	if src == nil {
		return nil, errors.New("connection refused")
	}
	return src, nil
}

func (o *openerScript) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type frameMirrorStub struct {
	mu    sync.Mutex
	calls int
}

func (m *frameMirrorStub) MirrorFrame(ctx context.Context, cctvID int64, jpeg []byte) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func testCaptureCam() camconfig.CameraConfig {
	return camconfig.CameraConfig{ID: 1, Name: "Gate", IPAddress: "10.0.0.5", Port: 7441, Token: "tok"}
}

func fastCaptureConfig() CaptureConfig {
	return CaptureConfig{RetryDelay: time.Millisecond, MaxRetries: 1, FailureThreshold: 2}
}

func newCaptureWorkerForTest(t *testing.T, opener *openerScript, queueCap int,
	overrides map[string]float64, cfg CaptureConfig) (*CaptureWorker, *CameraFrames, chan Frame, *frameMirrorStub) {

	t.Helper()
	slots := NewFrames().Slots(1)
	queue := make(chan Frame, queueCap)
	mirror := &frameMirrorStub{}
	w := NewCaptureWorker(testCaptureCam(), slots, queue, newTestSettings(overrides), cfg, metrics.New(), mirror)
	w.open = opener.open
	w.probe = nil
	return w, slots, queue, mirror
}

func TestCaptureWorker_PumpsAndSkipsFrames(t *testing.T) {
	opener := &openerScript{srcs: []FrameSource{framesScript("f1", "f2", "f3", "f4", "f5", "f6")}}
	w, slots, queue, mirror := newCaptureWorkerForTest(t, opener, 10,
		map[string]float64{"frame_skip": 2}, fastCaptureConfig())

	stop := make(chan struct{})
	w.Run(stop)

	// every frame refreshed the raw slot and the mirror; every 2nd was queued
	assert.Equal(t, 6, mirror.calls)
	require.Len(t, queue, 3)
	assert.Equal(t, []byte("f2"), (<-queue).Data)
	assert.Equal(t, []byte("f4"), (<-queue).Data)
	assert.Equal(t, []byte("f6"), (<-queue).Data)

	// the stream died afterwards, so the slots carry the failure placeholder
	raw, _ := slots.Raw.Get()
	assert.Equal(t, PlaceholderStreamFailed(), raw)
}

func TestCaptureWorker_QueueFullDrops(t *testing.T) {
	opener := &openerScript{srcs: []FrameSource{framesScript("f1", "f2", "f3")}}
	w, _, queue, _ := newCaptureWorkerForTest(t, opener, 1,
		map[string]float64{"frame_skip": 1}, fastCaptureConfig())

	w.Run(make(chan struct{}))

	// capacity one: first frame sticks, the rest are dropped without blocking
	require.Len(t, queue, 1)
	assert.Equal(t, []byte("f1"), (<-queue).Data)
}

func TestCaptureWorker_FallsBackToPlainRTSP(t *testing.T) {
	// first open (rtsps) refused, second (rtsp on the shifted port) delivers
	opener := &openerScript{srcs: []FrameSource{nil, framesScript("f1")}}
	w, _, queue, _ := newCaptureWorkerForTest(t, opener, 4,
		map[string]float64{"frame_skip": 1}, fastCaptureConfig())

	w.Run(make(chan struct{}))

	cam := testCaptureCam()
	seen := opener.seen()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, cam.StreamURL(), seen[0])
	assert.Equal(t, cam.FallbackURL(), seen[1])

	require.Len(t, queue, 1)
	assert.Equal(t, []byte("f1"), (<-queue).Data)
}

func TestCaptureWorker_GivesUpAfterMaxRetries(t *testing.T) {
	opener := &openerScript{} // refuses everything
	cfg := CaptureConfig{RetryDelay: time.Millisecond, MaxRetries: 3, FailureThreshold: 2}
	w, slots, _, _ := newCaptureWorkerForTest(t, opener, 1, nil, cfg)

	done := make(chan struct{})
	go func() {
		w.Run(make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not give up")
	}

	// three attempts, two urls each
	assert.Len(t, opener.seen(), 6)
	raw, _ := slots.Raw.Get()
	ann, _ := slots.Annotated.Get()
	assert.Equal(t, PlaceholderStreamFailed(), raw)
	assert.Equal(t, PlaceholderStreamFailed(), ann)
}

func TestCaptureWorker_RecoversAfterDeadConnection(t *testing.T) {
	// first connection reads nothing but errors; reconnect delivers frames
	dead := &scriptedSource{steps: []captureStep{
		{err: errors.New("reset")}, {err: errors.New("reset")}, {err: errors.New("reset")},
	}}
	opener := &openerScript{srcs: []FrameSource{dead, nil, framesScript("f1", "f2")}}
	cfg := CaptureConfig{RetryDelay: time.Millisecond, MaxRetries: 5, FailureThreshold: 2}
	w, _, queue, _ := newCaptureWorkerForTest(t, opener, 4, map[string]float64{"frame_skip": 1}, cfg)

	w.Run(make(chan struct{}))

	require.Len(t, queue, 2)
	assert.Equal(t, []byte("f1"), (<-queue).Data)
	assert.Equal(t, []byte("f2"), (<-queue).Data)
	assert.True(t, dead.closed)
}

func TestCaptureWorker_StopEndsPump(t *testing.T) {
	endless := &scriptedSource{}
	for i := 0; i < 100000; i++ {
		endless.steps = append(endless.steps, captureStep{data: []byte("x")})
	}
	opener := &openerScript{srcs: []FrameSource{endless}}
	w, _, queue, _ := newCaptureWorkerForTest(t, opener, 1,
		map[string]float64{"frame_skip": 1}, fastCaptureConfig())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()

	// wait for the pump to produce something, then stop it
	require.Eventually(t, func() bool { return len(queue) > 0 }, 2*time.Second, time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestCaptureWorker_ProbeFailureSkipsOpen(t *testing.T) {
	opener := &openerScript{srcs: []FrameSource{framesScript("f1")}}
	w, _, queue, _ := newCaptureWorkerForTest(t, opener, 4,
		map[string]float64{"frame_skip": 1}, fastCaptureConfig())

	var probed []string
	w.probe = func(ctx context.Context, url string) error {
		probed = append(probed, url)
		if len(probed) == 1 {
			return errors.New("port closed")
		}
		return nil
	}

	w.Run(make(chan struct{}))

	cam := testCaptureCam()
	// the rtsps probe failed, so the first open went straight to the fallback
	require.GreaterOrEqual(t, len(probed), 2)
	assert.Equal(t, cam.StreamURL(), probed[0])
	assert.Equal(t, cam.FallbackURL(), probed[1])
	assert.Equal(t, cam.FallbackURL(), opener.seen()[0])
	require.Len(t, queue, 1)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, backoffDelay(base, 0))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 8*time.Second, backoffDelay(base, 2))
	assert.Equal(t, maxBackoff, backoffDelay(base, 10))
}
