package camera

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceOpen        = errors.New("デバイスのオープンに失敗")
	ErrFormatNegotiation = errors.New("フォーマットのネゴシエーションに失敗")
	ErrDequeue           = errors.New("バッファの取り出しに失敗")
	ErrRequeue           = errors.New("バッファの再投入に失敗")
	ErrControl           = errors.New("コントロールの設定に失敗")
	ErrDeviceFailed      = errors.New("デバイスは停止済み")
	ErrNotStreaming      = errors.New("デバイスはストリーミングしていない")
	ErrManagerStarted    = errors.New("開始後にデバイスは追加できない")
	ErrDeviceNotFound    = errors.New("デバイスが見つかりません")
	ErrNoFrame           = errors.New("フレームが準備できていない")
	ErrUnsupported       = errors.New("この環境ではV4L2を利用できない")
	ErrUnknownControl    = errors.New("不明なコントロール")
)

// DeviceError はデバイス単位のエラー。Kind は上記の分類のいずれか。
type DeviceError struct {
	Kind error
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

// Unwrap は分類と原因の両方を返すので errors.Is はどちらにも一致する
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func deviceError(kind error, path string, err error) error {
	return &DeviceError{Kind: kind, Path: path, Err: err}
}
