package snapshot

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanrig/internal/camera"
)

func solidFrame(id string, w, h int, r, g, b byte) camera.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = r, g, b
	}
	return camera.Frame{DeviceID: id, Width: w, Height: h, Data: data, Sequence: 1}
}

func TestCalculateLayout(t *testing.T) {
	c := NewComposer(1200, 600, 0)
	tests := []struct {
		count      int
		cols, rows int
	}{
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 4, 2},
		{8, 5, 2},
	}
	for _, tt := range tests {
		l := c.calculateLayout(tt.count)
		assert.Equal(t, tt.cols, l.Cols, "count=%d", tt.count)
		assert.Equal(t, tt.rows, l.Rows, "count=%d", tt.count)
		assert.Equal(t, 1200/tt.cols, l.CellWidth)
		assert.GreaterOrEqual(t, l.Cols*l.Rows, tt.count)
	}
}

func TestCompose_PlacesFramesInOrder(t *testing.T) {
	c := NewComposer(8, 4, 90)
	img, err := c.Compose([]camera.Frame{
		solidFrame("a", 16, 8, 255, 0, 0),
		{DeviceID: "never"},
		solidFrame("b", 2, 2, 0, 0, 255),
	})
	require.NoError(t, err)

	left := img.RGBAAt(1, 1)
	right := img.RGBAAt(6, 2)
	assert.Equal(t, uint8(255), left.R)
	assert.Equal(t, uint8(0), left.B)
	assert.Equal(t, uint8(255), right.B)
	assert.Equal(t, uint8(0), right.R)
}

func TestCompose_NoFrames(t *testing.T) {
	c := NewComposer(8, 4, 90)
	_, err := c.Compose(nil)
	assert.ErrorIs(t, err, ErrNoFrames)
	_, err = c.ComposeJPEG([]camera.Frame{{DeviceID: "x", Width: 2, Height: 2, Sequence: 1}})
	assert.ErrorIs(t, err, ErrNoFrames, "データの足りないフレームは使わない")
}

func TestComposeJPEG(t *testing.T) {
	c := NewComposer(64, 32, 0)
	data, err := c.ComposeJPEG([]camera.Frame{solidFrame("a", 8, 8, 10, 200, 10)})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solidFrame("a", 10, 6, 50, 50, 50), 200)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())

	_, err = EncodeJPEG(camera.Frame{DeviceID: "a"}, 80)
	assert.ErrorIs(t, err, ErrNoFrames)

	_, err = EncodeJPEG(camera.Frame{DeviceID: "a", Width: 10, Height: 10, Data: make([]byte, 3), Sequence: 2}, 80)
	assert.Error(t, err)
}
