package camera

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status はデバイスの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // オープン済みだがストリーミング停止中
	StatusActive   Status = "active"   // ストリーミング中
	StatusError    Status = "error"    // 致命的なエラーで停止（以後撮影対象外）
)

// PixelFormat はV4L2のピクセルフォーマット（FourCC）
type PixelFormat uint32

const (
	PixelFormatYUYV  PixelFormat = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	PixelFormatMJPEG PixelFormat = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	PixelFormatRGB24 PixelFormat = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
)

// String はFourCC文字列を返す
func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

// ParsePixelFormat は設定ファイル上の表記をPixelFormatに変換する
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "YUYV", "YUY2":
		return PixelFormatYUYV, nil
	case "MJPG", "MJPEG":
		return PixelFormatMJPEG, nil
	case "RGB3", "RGB24":
		return PixelFormatRGB24, nil
	}
	return 0, fmt.Errorf("未対応のピクセルフォーマット: %q", s)
}

const (
	// DefaultBuffers はカーネルに要求する既定のバッファ数
	DefaultBuffers = 2
	// MaxBuffers は要求できるバッファ数の上限
	MaxBuffers = 32
)

// Settings はデバイスを開く際の要求設定
type Settings struct {
	Width       int         // 画像幅
	Height      int         // 画像高さ
	FPS         int         // フレームレート
	PixelFormat PixelFormat // 要求するピクセルフォーマット
	Buffers     int         // 要求するバッファ数
	Input       int         // V4L2入力番号（負なら変更しない）
}

// DefaultSettings は既定の設定を返す
func DefaultSettings() Settings {
	return Settings{
		Width:       1280,
		Height:      720,
		FPS:         15,
		PixelFormat: PixelFormatYUYV,
		Buffers:     DefaultBuffers,
		Input:       -1,
	}
}

// normalize はゼロ値を既定値で埋め、バッファ数を範囲内に収める
func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Width <= 0 {
		s.Width = def.Width
	}
	if s.Height <= 0 {
		s.Height = def.Height
	}
	if s.FPS <= 0 {
		s.FPS = def.FPS
	}
	if s.PixelFormat == 0 {
		s.PixelFormat = def.PixelFormat
	}
	if s.Buffers <= 0 {
		s.Buffers = DefaultBuffers
	}
	if s.Buffers > MaxBuffers {
		s.Buffers = MaxBuffers
	}
	return s
}

// Format はネゴシエーション済みの画像フォーマット
type Format struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// Frame はデコード済みのRGB24フレーム
//
// Device.LatestFrame が返す Data はデバイス内部のバッファを借用している。
// 次の撮影で上書きされるため、保持する場合は Clone を使う。
type Frame struct {
	DeviceID  string
	Width     int
	Height    int
	Data      []byte // RGB24, len = Width*Height*3
	Sequence  uint64
	Timestamp time.Time
}

// Clone はバッファを複製したフレームを返す
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Empty はまだ一度も撮影されていないフレームかどうか
func (f Frame) Empty() bool {
	return f.Sequence == 0
}

// Stats は撮影の統計情報
type Stats struct {
	Captured uint64 // 取得できたフレーム数
	Missed   uint64 // 待機時間内にフレームが来なかった回数
	Corrupt  uint64 // 変換に失敗したフレーム数
}

// DeviceSettings は永続化対象のデバイスごとのコントロール値
type DeviceSettings struct {
	ID       string           `yaml:"id"`
	Path     string           `yaml:"device"`
	Controls map[string]int32 `yaml:"controls"`
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string // デバイスパス
	Name    string // デバイス名
	Driver  string // ドライバー名
	BusInfo string // バス情報
}
