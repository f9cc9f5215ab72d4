//go:build !linux

package camera

import "time"

// V4L2Driver はLinux以外ではすべての操作が ErrUnsupported を返す
type V4L2Driver struct{}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver() Driver {
	return &V4L2Driver{}
}

func (*V4L2Driver) Open(string) (Capability, error) { return Capability{}, ErrUnsupported }
func (*V4L2Driver) SetInput(int) error { return ErrUnsupported }
func (*V4L2Driver) SetFormat(Format) (Format, error) { return Format{}, ErrUnsupported }
func (*V4L2Driver) SetFrameRate(int) (int, error) { return 0, ErrUnsupported }
func (*V4L2Driver) RequestBuffers(int) (int, error) { return 0, ErrUnsupported }
func (*V4L2Driver) MapBuffer(int) ([]byte, error) { return nil, ErrUnsupported }
func (*V4L2Driver) UnmapBuffer([]byte) error { return ErrUnsupported }
func (*V4L2Driver) Queue(int) error { return ErrUnsupported }
func (*V4L2Driver) Dequeue(time.Duration) (int, int, error) { return 0, 0, ErrUnsupported }
func (*V4L2Driver) StreamOn() error { return ErrUnsupported }
func (*V4L2Driver) StreamOff() error { return ErrUnsupported }
func (*V4L2Driver) SetControl(ControlID, int32) error { return ErrUnsupported }
func (*V4L2Driver) GetControl(ControlID) (int32, error) { return 0, ErrUnsupported }
func (*V4L2Driver) Close() error { return nil }
