package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scanrig/internal/camera"
)

func TestBrightSpotDetector(t *testing.T) {
	f := camera.Frame{Width: 5, Height: 3, Data: make([]byte, 5*3*3), Sequence: 1}
	set := func(x, y int, v byte) {
		i := (y*f.Width + x) * 3
		f.Data[i], f.Data[i+1], f.Data[i+2] = v, v, v
	}
	set(1, 0, 250)
	set(3, 0, 250)
	set(4, 2, 220)
	set(0, 1, 100)

	points := BrightSpotDetector{Threshold: 200}.Detect(f)
	assert.Equal(t, []Point2{{X: 2, Y: 0}, {X: 4, Y: 2}}, points)

	points = BrightSpotDetector{Threshold: 200, RowStep: 2}.Detect(f)
	assert.Equal(t, []Point2{{X: 2, Y: 0}, {X: 4, Y: 2}}, points)

	points = BrightSpotDetector{Threshold: 200, RowStep: 3}.Detect(f)
	assert.Equal(t, []Point2{{X: 2, Y: 0}}, points)
}

func TestBrightSpotDetector_ShortFrame(t *testing.T) {
	f := camera.Frame{Width: 5, Height: 3, Data: make([]byte, 4)}
	assert.Nil(t, BrightSpotDetector{Threshold: 1}.Detect(f))
}
