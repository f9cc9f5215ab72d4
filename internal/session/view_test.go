package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViewCamera_Zoom(t *testing.T) {
	v := NewViewCamera()
	v.Zoom(1)
	assert.InDelta(t, defaultViewDistance*0.9, v.Distance(), 1e-9)
	v.Zoom(-1)
	assert.InDelta(t, defaultViewDistance, v.Distance(), 1e-9)

	v.Zoom(1000)
	assert.InDelta(t, minViewDistance, v.Distance(), 1e-9)
}

func TestViewCamera_RotateKeepsDistance(t *testing.T) {
	v := NewViewCamera()
	v.Rotate(30, -12, 200*time.Millisecond)
	assert.InDelta(t, defaultViewDistance, v.Distance(), 1e-6)
	assert.Equal(t, [3]float64{}, v.State().Target)

	before := v.State()
	v.Rotate(5, 5, 0)
	assert.Equal(t, before, v.State())
}

func TestViewCamera_RotatePitchClamp(t *testing.T) {
	v := NewViewCamera()
	for i := 0; i < 100; i++ {
		v.Rotate(0, 100, 100*time.Millisecond)
	}
	st := v.State()
	// 真上まで回り込まない
	assert.Less(t, st.Eye[1]/v.Distance(), 0.99)
}

func TestViewCamera_Pan(t *testing.T) {
	v := NewViewCamera()
	v.Pan(10, 0)
	st := v.State()
	assert.InDelta(t, -10, st.Target[0], 1e-9)
	assert.InDelta(t, -10, st.Eye[0], 1e-9)
	assert.InDelta(t, defaultViewDistance, v.Distance(), 1e-9)
}
