package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/events"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
)

type uploaderStub struct {
	mu    sync.Mutex
	calls int
	paths []string
	types []string
	err   error
}

func (u *uploaderStub) Upload(ctx context.Context, data []byte, contentType, objectPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, objectPath)
	u.types = append(u.types, contentType)
	return "https://cdn.example.com/" + objectPath, nil
}

func (u *uploaderStub) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

type recorderStub struct {
	mu        sync.Mutex
	inserts   []string // image URLs
	rollups   int
	insertErr error
	nextID    int64
}

func (r *recorderStub) Insert(ctx context.Context, cctvID, classID int64, imageURL string, ts time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	r.inserts = append(r.inserts, imageURL)
	r.nextID++
	return r.nextID, nil
}

func (r *recorderStub) UpsertDailyRollup(ctx context.Context, logDate time.Time, cctvID, classID int64, ts time.Time) error {
	r.mu.Lock()
	r.rollups++
	r.mu.Unlock()
	return nil
}

type publisherStub struct {
	mu   sync.Mutex
	msgs []events.ViolationMessage
}

func (p *publisherStub) PublishViolation(msg events.ViolationMessage) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

type notifierStub struct {
	mu  sync.Mutex
	ids []int64
}

func (n *notifierStub) AutoNotify(ctx context.Context, violationID int64) {
	n.mu.Lock()
	n.ids = append(n.ids, violationID)
	n.mu.Unlock()
}

func testViolation(t *testing.T) Violation {
	return Violation{
		CctvID:    1,
		CctvName:  "Gate",
		Location:  "North Gate",
		Frame:     testFrameJPEG(t, 640, 480),
		X1:        100, Y1: 100, X2: 200, Y2: 200,
		ClassName: "no-helmet",
		ClassID:   2,
		Conf:      0.9,
		TrackID:   7,
		TS:        time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
	}
}

func TestProcessor_FullChain(t *testing.T) {
	up := &uploaderStub{}
	rec := &recorderStub{}
	pub := &publisherStub{}
	not := &notifierStub{}

	p := NewProcessor(ProcessorConfig{Workers: 1, QueueSize: 4, Location: time.UTC},
		up, rec, newTestSettings(nil), metrics.New(), not, pub)
	p.Start()
	defer p.Stop()

	require.True(t, p.Submit(testViolation(t)))

	require.Eventually(t, func() bool {
		not.mu.Lock()
		defer not.mu.Unlock()
		return len(not.ids) == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.Len(t, up.paths, 1)
	assert.Equal(t, "image/jpeg", up.types[0])
	assert.True(t, strings.HasPrefix(up.paths[0], "cctv/1/2025/06/02/no-helmet_"), up.paths[0])

	require.Len(t, rec.inserts, 1)
	assert.Equal(t, "https://cdn.example.com/"+up.paths[0], rec.inserts[0])
	assert.Equal(t, 1, rec.rollups)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, int64(1), msg.EventID)
	assert.Equal(t, int64(1), msg.CctvID)
	assert.Equal(t, int64(2), msg.ClassID)
	assert.Equal(t, "no-helmet", msg.ClassName)
	assert.Equal(t, 7, msg.TrackID)

	assert.Equal(t, []int64{1}, not.ids)
}

func TestProcessor_UploadFailureAbortsEvent(t *testing.T) {
	up := &uploaderStub{err: errors.New("storage down")}
	rec := &recorderStub{}
	not := &notifierStub{}

	p := NewProcessor(ProcessorConfig{Workers: 1, QueueSize: 4, Location: time.UTC},
		up, rec, newTestSettings(nil), metrics.New(), not)
	p.Start()

	require.True(t, p.Submit(testViolation(t)))
	require.Eventually(t, func() bool { return up.callCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	p.Stop()

	assert.Empty(t, rec.inserts)
	assert.Zero(t, rec.rollups)
	assert.Empty(t, not.ids)
}

func TestProcessor_InsertFailureSkipsFanout(t *testing.T) {
	up := &uploaderStub{}
	rec := &recorderStub{insertErr: errors.New("db down")}
	pub := &publisherStub{}
	not := &notifierStub{}

	p := NewProcessor(ProcessorConfig{Workers: 1, QueueSize: 4, Location: time.UTC},
		up, rec, newTestSettings(nil), metrics.New(), not, pub)
	p.Start()

	require.True(t, p.Submit(testViolation(t)))
	require.Eventually(t, func() bool { return up.callCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	p.Stop()

	// the object was uploaded but nothing downstream of the failed insert ran
	assert.Len(t, up.paths, 1)
	assert.Empty(t, pub.msgs)
	assert.Empty(t, not.ids)
}

func TestProcessor_SubmitDropsWhenSaturated(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Workers: 1, QueueSize: 1, Location: time.UTC},
		&uploaderStub{}, &recorderStub{}, newTestSettings(nil), metrics.New(), nil)
	// not started: nothing drains the queue

	assert.True(t, p.Submit(testViolation(t)))
	assert.False(t, p.Submit(testViolation(t)))
}

func TestProcessor_NilPublishersSkipped(t *testing.T) {
	up := &uploaderStub{}
	rec := &recorderStub{}
	pub := &publisherStub{}

	p := NewProcessor(ProcessorConfig{Workers: 1, QueueSize: 4, Location: time.UTC},
		up, rec, newTestSettings(nil), metrics.New(), nil, nil, pub)
	p.Start()

	require.True(t, p.Submit(testViolation(t)))

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) == 1
	}, 3*time.Second, 10*time.Millisecond)
	p.Stop()
}

func TestBuildPolaroid_Dimensions(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Location: time.UTC},
		&uploaderStub{}, &recorderStub{}, newTestSettings(map[string]float64{
			"padding_percent":  0,
			"target_max_width": 320,
		}), metrics.New(), nil)

	jpegBytes, err := p.BuildPolaroid(testViolation(t))
	require.NoError(t, err)

	img, err := DecodeJPEG(jpegBytes)
	require.NoError(t, err)

	// 100 px crop upscaled to 320 wide, strip below
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 320+polaroidStripHeight, img.Bounds().Dy())
}

func TestBuildPolaroid_WideCropKeepsSize(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Location: time.UTC},
		&uploaderStub{}, &recorderStub{}, newTestSettings(map[string]float64{
			"padding_percent":  0,
			"target_max_width": 320,
		}), metrics.New(), nil)

	v := testViolation(t)
	v.X1, v.Y1, v.X2, v.Y2 = 0, 0, 600, 300

	jpegBytes, err := p.BuildPolaroid(v)
	require.NoError(t, err)

	img, err := DecodeJPEG(jpegBytes)
	require.NoError(t, err)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, 300+polaroidStripHeight, img.Bounds().Dy())
}

func TestBuildPolaroid_EmptyCropFails(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Location: time.UTC},
		&uploaderStub{}, &recorderStub{}, newTestSettings(nil), metrics.New(), nil)

	v := testViolation(t)
	v.X1, v.Y1, v.X2, v.Y2 = 700, 500, 800, 600 // fully outside the frame

	_, err := p.BuildPolaroid(v)
	assert.Error(t, err)
}

func TestBuildPolaroid_BadFrameFails(t *testing.T) {
	p := NewProcessor(ProcessorConfig{Location: time.UTC},
		&uploaderStub{}, &recorderStub{}, newTestSettings(nil), metrics.New(), nil)

	v := testViolation(t)
	v.Frame = []byte("not a jpeg")

	_, err := p.BuildPolaroid(v)
	assert.Error(t, err)
}

func TestComposePolaroid_StripAndCaption(t *testing.T) {
	crop := testFrameJPEG(t, 320, 200)
	img, err := DecodeJPEG(crop)
	require.NoError(t, err)

	out := ComposePolaroid(img, "no-helmet", time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC), "")
	assert.Equal(t, 320, out.Bounds().Dx())
	assert.Equal(t, 200+polaroidStripHeight, out.Bounds().Dy())
}

