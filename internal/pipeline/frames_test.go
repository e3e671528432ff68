package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSlot_SetGet(t *testing.T) {
	s := &FrameSlot{}

	data, ts := s.Get()
	assert.Nil(t, data)
	assert.True(t, ts.IsZero())

	now := time.Now()
	s.Set([]byte{0xFF, 0xD8}, now)
	data, ts = s.Get()
	assert.Equal(t, []byte{0xFF, 0xD8}, data)
	assert.Equal(t, now, ts)
}

func TestFrames_SlotsAreStable(t *testing.T) {
	f := NewFrames()

	a := f.Slots(1)
	b := f.Slots(1)
	require.NotNil(t, a)
	assert.Same(t, a, b)

	other := f.Slots(2)
	assert.NotSame(t, a, other)
}

func TestCameraFrames_SeedFillsBothSlots(t *testing.T) {
	f := NewFrames()
	cf := f.Slots(1)

	now := time.Now()
	cf.Seed([]byte("jpeg"), now)

	raw, rawTS := cf.Raw.Get()
	ann, annTS := cf.Annotated.Get()
	assert.Equal(t, []byte("jpeg"), raw)
	assert.Equal(t, []byte("jpeg"), ann)
	assert.Equal(t, now, rawTS)
	assert.Equal(t, now, annTS)
}
