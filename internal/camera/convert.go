package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// convertFunc はドライバーのバッファをRGB24に変換する
type convertFunc func(dst, src []byte, width, height int) error

func converterFor(pf PixelFormat) (convertFunc, bool) {
	switch pf {
	case PixelFormatYUYV:
		return yuyvToRGB, true
	case PixelFormatMJPEG:
		return mjpegToRGB, true
	case PixelFormatRGB24:
		return copyRGB, true
	}
	return nil, false
}

// yuyvToRGB は2画素ごとに Y0 U Y1 V の4バイトを展開する
func yuyvToRGB(dst, src []byte, width, height int) error {
	pixels := width * height
	if len(src) < pixels*2 {
		return fmt.Errorf("YUYVフレームが短い: %d < %d", len(src), pixels*2)
	}
	if len(dst) < pixels*3 {
		return fmt.Errorf("出力バッファが短い: %d < %d", len(dst), pixels*3)
	}
	for i, o := 0, 0; i+3 < pixels*2; i, o = i+4, o+6 {
		u, v := src[i+1], src[i+3]
		dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(src[i], u, v)
		dst[o+3], dst[o+4], dst[o+5] = color.YCbCrToRGB(src[i+2], u, v)
	}
	return nil
}

// mjpegToRGB はJPEGをデコードしてRGB24に書き出す
//
// TODO: ハフマンテーブル(DHT)を省略するUVCカメラ向けに標準テーブルを補完する
func mjpegToRGB(dst, src []byte, width, height int) error {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("MJPEGのデコードに失敗: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("MJPEGの大きさが一致しない: %dx%d", b.Dx(), b.Dy())
	}
	if len(dst) < width*height*3 {
		return fmt.Errorf("出力バッファが短い: %d", len(dst))
	}

	if ycc, ok := img.(*image.YCbCr); ok {
		o := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := ycc.YOffset(x, y)
				ci := ycc.COffset(x, y)
				dst[o], dst[o+1], dst[o+2] = color.YCbCrToRGB(ycc.Y[yi], ycc.Cb[ci], ycc.Cr[ci])
				o += 3
			}
		}
		return nil
	}

	o := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst[o], dst[o+1], dst[o+2] = byte(r>>8), byte(g>>8), byte(bl>>8)
			o += 3
		}
	}
	return nil
}

func copyRGB(dst, src []byte, width, height int) error {
	n := width * height * 3
	if len(src) < n || len(dst) < n {
		return fmt.Errorf("RGBフレームの大きさが不正: %d", len(src))
	}
	copy(dst, src[:n])
	return nil
}

// RGBImage はRGB24のバイト列を image.Image として扱うためにRGBAへ展開する
func RGBImage(f Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, o := 0, 0; i+2 < len(f.Data) && o+3 < len(img.Pix); i, o = i+3, o+4 {
		img.Pix[o] = f.Data[i]
		img.Pix[o+1] = f.Data[i+1]
		img.Pix[o+2] = f.Data[i+2]
		img.Pix[o+3] = 0xff
	}
	return img
}
