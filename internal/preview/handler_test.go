package preview

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

func feedRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	// pre-cancelled context: the handler writes one frame and returns
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	return req.WithContext(ctx)
}

func TestVideoFeed_InvalidID(t *testing.T) {
	h := NewHandler(pipeline.NewFrames())

	for _, target := range []string{"/video_feed", "/video_feed?id=abc", "/video_feed?id=0", "/video_feed?id=-3"} {
		rec := httptest.NewRecorder()
		h.VideoFeed(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestVideoFeed_StreamsMultipart(t *testing.T) {
	frames := pipeline.NewFrames()
	frame := []byte("ANNOTATED-JPEG-BYTES")
	frames.Slots(4).Annotated.Set(frame, time.Now())

	h := NewHandler(frames)
	rec := httptest.NewRecorder()
	h.VideoFeed(rec, feedRequest(t, "/video_feed?id=4"))

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.Bytes()
	assert.True(t, strings.HasPrefix(string(body), "--frame\r\nContent-Type: image/jpeg\r\n\r\n"))
	assert.True(t, bytes.Contains(body, frame))
}

func TestVideoFeed_UnknownCameraServesFreeze(t *testing.T) {
	h := NewHandler(pipeline.NewFrames())
	rec := httptest.NewRecorder()
	h.VideoFeed(rec, feedRequest(t, "/video_feed?id=12345"))

	assert.True(t, bytes.Contains(rec.Body.Bytes(), pipeline.PlaceholderFreeze()))
}

func TestPickFrame_PrefersFreshAnnotated(t *testing.T) {
	frames := pipeline.NewFrames()
	slots := frames.Slots(1)
	now := time.Now()
	slots.Raw.Set([]byte("raw"), now)
	slots.Annotated.Set([]byte("annotated"), now.Add(-4*time.Second))

	h := NewHandler(frames)
	var staleLog time.Time
	got := h.pickFrame(slots, now, 1, &staleLog)
	assert.Equal(t, []byte("annotated"), got)
}

func TestPickFrame_StaleAnnotatedFallsBackToRaw(t *testing.T) {
	frames := pipeline.NewFrames()
	slots := frames.Slots(1)
	now := time.Now()
	slots.Annotated.Set([]byte("annotated"), now.Add(-6*time.Second))
	slots.Raw.Set([]byte("raw"), now.Add(-9*time.Second))

	h := NewHandler(frames)
	var staleLog time.Time
	got := h.pickFrame(slots, now, 1, &staleLog)
	assert.Equal(t, []byte("raw"), got)
}

func TestPickFrame_EmptyAnnotatedFallsBackToRaw(t *testing.T) {
	frames := pipeline.NewFrames()
	slots := frames.Slots(1)
	now := time.Now()
	slots.Raw.Set([]byte("raw"), now)

	h := NewHandler(frames)
	var staleLog time.Time
	got := h.pickFrame(slots, now, 1, &staleLog)
	assert.Equal(t, []byte("raw"), got)
}

func TestPickFrame_BothStaleServesFreeze(t *testing.T) {
	frames := pipeline.NewFrames()
	slots := frames.Slots(1)
	now := time.Now()
	slots.Annotated.Set([]byte("annotated"), now.Add(-time.Minute))
	slots.Raw.Set([]byte("raw"), now.Add(-11*time.Second))

	h := NewHandler(frames)
	var staleLog time.Time
	got := h.pickFrame(slots, now, 1, &staleLog)
	require.NotEmpty(t, got)
	assert.Equal(t, pipeline.PlaceholderFreeze(), got)
	assert.False(t, staleLog.IsZero(), "stale serve must be logged")
}

func TestPickFrame_RawAtBoundaryStillServes(t *testing.T) {
	frames := pipeline.NewFrames()
	slots := frames.Slots(1)
	now := time.Now()
	slots.Raw.Set([]byte("raw"), now.Add(-10*time.Second))

	h := NewHandler(frames)
	var staleLog time.Time
	got := h.pickFrame(slots, now, 1, &staleLog)
	assert.Equal(t, []byte("raw"), got)
}
