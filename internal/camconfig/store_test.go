package camconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

type stubCameras struct {
	cams []data.Camera
	err  error
}

func (s *stubCameras) ListEnabled(ctx context.Context) ([]data.Camera, error) {
	return s.cams, s.err
}

type stubConfigs struct {
	active map[int64][]int64
}

func (s *stubConfigs) ActiveMap(ctx context.Context) (map[int64][]int64, error) {
	return s.active, nil
}

type stubFetcher struct {
	objects map[string][]byte
}

func (s *stubFetcher) FetchObject(ctx context.Context, name string) ([]byte, error) {
	if b, ok := s.objects[name]; ok {
		return b, nil
	}
	return nil, errors.New("object not found")
}

func strPtr(s string) *string { return &s }

const inlineROI = `{"image_width":1920,"image_height":1080,"items":[{"type":"polygon","points":[[0,0],[1920,0],[1920,1080],[0,1080]],"allowed_violations":[2]}]}`

func TestStore_InlineROI(t *testing.T) {
	cams := &stubCameras{cams: []data.Camera{
		{ID: 1, Name: "Gate", IPAddress: "10.0.0.5", Port: 7441, Token: "abc", Location: strPtr("North Gate"), Area: strPtr(inlineROI), Enabled: true},
	}}
	store := NewStore(cams, &stubConfigs{active: map[int64][]int64{1: {2}}}, nil)
	require.NoError(t, store.Refresh(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].ROI)
	assert.Equal(t, 1920.0, snap[0].ROI.ImageWidth)
	assert.Len(t, snap[0].ROI.Items, 1)
	assert.Equal(t, "rtsps://10.0.0.5:7441/abc?enableSrtp", snap[0].StreamURL())
	assert.Equal(t, "rtsp://10.0.0.5:7447/abc", snap[0].FallbackURL())
}

func TestStore_ROIFromStorageFile(t *testing.T) {
	cams := &stubCameras{cams: []data.Camera{
		{ID: 2, Name: "Dock", IPAddress: "10.0.0.6", Port: 7441, Token: "def", Area: strPtr("roi/cctv_2.json"), Enabled: true},
	}}
	fetcher := &stubFetcher{objects: map[string][]byte{
		"roi/cctv_2.json": []byte(inlineROI),
	}}
	store := NewStore(cams, &stubConfigs{}, fetcher)
	require.NoError(t, store.Refresh(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].ROI)
	assert.Equal(t, 1080.0, snap[0].ROI.ImageHeight)
}

func TestStore_BadROIYieldsNil(t *testing.T) {
	cams := &stubCameras{cams: []data.Camera{
		{ID: 3, Name: "Yard", IPAddress: "10.0.0.7", Port: 7441, Token: "ghi", Area: strPtr(`{"image_width":0,"items":[]}`), Enabled: true},
		{ID: 4, Name: "Lot", IPAddress: "10.0.0.8", Port: 7441, Token: "jkl", Area: strPtr("missing.json"), Enabled: true},
		{ID: 5, Name: "Roof", IPAddress: "10.0.0.9", Port: 7441, Token: "mno", Enabled: true},
	}}
	store := NewStore(cams, &stubConfigs{}, &stubFetcher{})
	require.NoError(t, store.Refresh(context.Background()))

	// cameras with unusable ROI still appear; they just run stream-only
	snap := store.Snapshot()
	require.Len(t, snap, 3)
	for _, c := range snap {
		assert.Nil(t, c.ROI, "cctv %d", c.ID)
	}
}

func TestStore_ActiveSetCopies(t *testing.T) {
	store := NewStore(&stubCameras{}, &stubConfigs{active: map[int64][]int64{7: {2, 4}}}, nil)
	require.NoError(t, store.Refresh(context.Background()))

	set := store.ActiveSet(7)
	assert.Len(t, set, 2)
	delete(set, 2)

	// mutation of the returned copy must not leak into the store
	assert.Len(t, store.ActiveSet(7), 2)
	assert.Empty(t, store.ActiveSet(99))
}

func TestRegion_Allows(t *testing.T) {
	open := Region{Type: "polygon"}
	assert.True(t, open.Allows(42))

	scoped := Region{Type: "polygon", AllowedViolations: []int64{2, 4}}
	assert.True(t, scoped.Allows(4))
	assert.False(t, scoped.Allows(5))
}
