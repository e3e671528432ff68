package preview

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

func newTestMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewMirror(rdb), mr
}

func TestMirrorFrame_WritesKeyWithTTL(t *testing.T) {
	m, mr := newTestMirror(t)

	m.MirrorFrame(context.Background(), 3, []byte("jpeg-bytes"))

	got, err := mr.Get("cctv_frame:3")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", got)
	assert.Equal(t, 5*time.Second, mr.TTL("cctv_frame:3"))
}

func TestMirrorFrame_SkipsEmptyFrame(t *testing.T) {
	m, mr := newTestMirror(t)

	m.MirrorFrame(context.Background(), 3, nil)

	assert.False(t, mr.Exists("cctv_frame:3"))
}

func TestMirrorDetections_PayloadShape(t *testing.T) {
	m, mr := newTestMirror(t)

	dets := []pipeline.TrackedDetection{
		{
			Detection: pipeline.Detection{
				X1: 100, Y1: 120, X2: 200, Y2: 260,
				ClassName: "no-helmet", Confidence: 0.91,
			},
			TrackID: 7,
		},
	}
	m.MirrorDetections(context.Background(), 3, dets)

	raw, err := mr.Get("det:latest:3")
	require.NoError(t, err)

	var payload mirroredDetections
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, int64(3), payload.CctvID)
	assert.Positive(t, payload.TSUnix)
	require.Len(t, payload.Boxes, 1)
	assert.Equal(t, "no-helmet", payload.Boxes[0].Label)
	assert.Equal(t, 7, payload.Boxes[0].TrackID)
	assert.Equal(t, 200.0, payload.Boxes[0].X2)

	assert.Equal(t, 10*time.Second, mr.TTL("det:latest:3"))
}

func TestMirrorDetections_EmptyListStillPublishes(t *testing.T) {
	m, mr := newTestMirror(t)

	// an explicit empty summary tells consumers detection ran and saw nothing
	m.MirrorDetections(context.Background(), 9, nil)

	raw, err := mr.Get("det:latest:9")
	require.NoError(t, err)

	var payload mirroredDetections
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.NotNil(t, payload.Boxes)
	assert.Empty(t, payload.Boxes)
}

func TestMirror_NilReceiversAreSafe(t *testing.T) {
	var m *Mirror
	m.MirrorFrame(context.Background(), 1, []byte("x"))
	m.MirrorDetections(context.Background(), 1, nil)

	noClient := NewMirror(nil)
	noClient.MirrorFrame(context.Background(), 1, []byte("x"))
	noClient.MirrorDetections(context.Background(), 1, nil)
}

func TestMirror_RedisDownIsSwallowed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	m := NewMirror(rdb)
	mr.Close()

	// must log and move on, never error or panic at frame rate
	m.MirrorFrame(context.Background(), 1, []byte("x"))
	m.MirrorDetections(context.Background(), 1, nil)
}
