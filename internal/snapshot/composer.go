// Package snapshot は撮影済みフレームを静止画にまとめる
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"scanrig/internal/camera"
)

// ErrNoFrames はまとめるフレームがない場合に返る
var ErrNoFrames = errors.New("有効なフレームがありません")

// DefaultQuality はJPEGの既定品質
const DefaultQuality = 85

// Composer は複数カメラのフレームを格子状に並べた1枚の画像を作る
type Composer struct {
	outputWidth  int
	outputHeight int
	quality      int
}

// NewComposer は新しいComposerを作成する
func NewComposer(outputWidth, outputHeight, quality int) *Composer {
	return &Composer{
		outputWidth:  max(outputWidth, 1),
		outputHeight: max(outputHeight, 1),
		quality:      clampQuality(quality),
	}
}

func clampQuality(q int) int {
	if q <= 0 {
		return DefaultQuality
	}
	return min(q, 100)
}

// Compose はフレームを渡された順に並べる。未撮影のフレームは飛ばす。
func (c *Composer) Compose(frames []camera.Frame) (*image.RGBA, error) {
	var valid []camera.Frame
	for _, f := range frames {
		if !f.Empty() && len(f.Data) >= f.Width*f.Height*3 {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoFrames
	}

	layout := c.calculateLayout(len(valid))
	out := image.NewRGBA(image.Rect(0, 0, c.outputWidth, c.outputHeight))
	for i, f := range valid {
		drawFrameAt(out, f, c.calculatePosition(i, layout))
	}
	return out, nil
}

// ComposeJPEG は Compose の結果をJPEGにする
func (c *Composer) ComposeJPEG(frames []camera.Frame) ([]byte, error) {
	img, err := c.Compose(frames)
	if err != nil {
		return nil, err
	}
	return encode(img, c.quality)
}

// EncodeJPEG は1フレームをそのままの大きさでJPEGにする
func EncodeJPEG(f camera.Frame, quality int) ([]byte, error) {
	if f.Empty() {
		return nil, ErrNoFrames
	}
	if len(f.Data) < f.Width*f.Height*3 {
		return nil, fmt.Errorf("デバイス %s のフレームが壊れています", f.DeviceID)
	}
	return encode(camera.RGBImage(f), clampQuality(quality))
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// LayoutInfo はレイアウト情報
type LayoutInfo struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
}

// calculateLayout はフレーム数に基づいてレイアウトを計算する
func (c *Composer) calculateLayout(frameCount int) LayoutInfo {
	var cols, rows int

	switch frameCount {
	case 1:
		cols, rows = 1, 1
	case 2:
		cols, rows = 2, 1
	case 3, 4:
		cols, rows = 2, 2
	default:
		// 5つ以上は横を多めに
		cols = int(float64(frameCount)*0.6) + 1
		rows = (frameCount + cols - 1) / cols
	}

	return LayoutInfo{
		Cols:       cols,
		Rows:       rows,
		CellWidth:  c.outputWidth / cols,
		CellHeight: c.outputHeight / rows,
	}
}

// Position は配置位置
type Position struct {
	X, Y          int
	Width, Height int
}

// calculatePosition は指定したインデックスの配置位置を計算する
func (c *Composer) calculatePosition(index int, layout LayoutInfo) Position {
	row := index / layout.Cols
	col := index % layout.Cols

	return Position{
		X:      col * layout.CellWidth,
		Y:      row * layout.CellHeight,
		Width:  layout.CellWidth,
		Height: layout.CellHeight,
	}
}

// drawFrameAt はニアレストネイバー法で縮小しながらRGBフレームを配置する
func drawFrameAt(dst *image.RGBA, f camera.Frame, pos Position) {
	for y := 0; y < pos.Height; y++ {
		srcY := y * f.Height / pos.Height
		for x := 0; x < pos.Width; x++ {
			srcX := x * f.Width / pos.Width
			s := (srcY*f.Width + srcX) * 3
			d := dst.PixOffset(pos.X+x, pos.Y+y)
			dst.Pix[d+0] = f.Data[s+0]
			dst.Pix[d+1] = f.Data[s+1]
			dst.Pix[d+2] = f.Data[s+2]
			dst.Pix[d+3] = 0xff
		}
	}
}
