//go:build linux

package camera

import (
	"bytes"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bufTypeVideoCapture = 1
	memoryMmap          = 1
	fieldNone           = 1
	capTimePerFrame     = 0x1000
)

// ioctl番号は _IOC(dir, 'V', nr, size) の規則で組み立てる
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | 'V'<<8 | nr
}

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format の共用体はポインタを含むため8バイト境界に揃う
type v4l2Format struct {
	typ uint32
	_   uint32
	pix v4l2PixFormat
	_   [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2CaptureParm struct {
	capability   uint32
	captureMode  uint32
	timePerFrame v4l2Fract
	extendedMode uint32
	readBuffers  uint32
	reserved     [4]uint32
}

type v4l2StreamParm struct {
	typ     uint32
	capture v4l2CaptureParm
	_       [200 - unsafe.Sizeof(v4l2CaptureParm{})]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	offset    uint64 // 共用体 m（mmapではoffsetのみ使う）
	length    uint32
	reserved2 uint32
	requestFD int32
	_         uint32
}

type v4l2Control struct {
	id    uint32
	value int32
}

var (
	vidiocQueryCap  = ioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocSFmt      = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = ioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = ioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = ioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = ioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = ioc(iocWrite, 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = ioc(iocWrite, 19, unsafe.Sizeof(int32(0)))
	vidiocGParm     = ioc(iocRead|iocWrite, 21, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocSParm     = ioc(iocRead|iocWrite, 22, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocGCtrl     = ioc(iocRead|iocWrite, 27, unsafe.Sizeof(v4l2Control{}))
	vidiocSCtrl     = ioc(iocRead|iocWrite, 28, unsafe.Sizeof(v4l2Control{}))
	vidiocSInput    = ioc(iocRead|iocWrite, 39, unsafe.Sizeof(int32(0)))
)

// V4L2Driver はioctlとmmapでV4L2デバイスを直接操作するDriver実装
type V4L2Driver struct {
	fd   int
	path string
}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver() Driver {
	return &V4L2Driver{fd: -1}
}

// xioctl はシグナル割り込み時にだけioctlをやり直す
func xioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (d *V4L2Driver) Open(path string) (Capability, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return Capability{}, fmt.Errorf("open %s: %w", path, err)
	}
	d.fd = fd
	d.path = path

	var c v4l2Capability
	if err := xioctl(fd, vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
		_ = unix.Close(fd)
		d.fd = -1
		return Capability{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}

	caps := c.capabilities
	// デバイスノード単位の機能が報告されていればそちらを使う
	if c.capabilities&0x80000000 != 0 {
		caps = c.deviceCaps
	}
	return Capability{
		Driver:       cString(c.driver[:]),
		Card:         cString(c.card[:]),
		BusInfo:      cString(c.busInfo[:]),
		Capabilities: caps,
	}, nil
}

func (d *V4L2Driver) SetInput(index int) error {
	in := int32(index)
	if err := xioctl(d.fd, vidiocSInput, unsafe.Pointer(&in)); err != nil {
		return fmt.Errorf("VIDIOC_S_INPUT: %w", err)
	}
	return nil
}

func (d *V4L2Driver) SetFormat(f Format) (Format, error) {
	var fmtReq v4l2Format
	fmtReq.typ = bufTypeVideoCapture
	fmtReq.pix.width = uint32(f.Width)
	fmtReq.pix.height = uint32(f.Height)
	fmtReq.pix.pixelformat = uint32(f.PixelFormat)
	fmtReq.pix.field = fieldNone
	if err := xioctl(d.fd, vidiocSFmt, unsafe.Pointer(&fmtReq)); err != nil {
		return Format{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return Format{
		Width:       int(fmtReq.pix.width),
		Height:      int(fmtReq.pix.height),
		PixelFormat: PixelFormat(fmtReq.pix.pixelformat),
	}, nil
}

func (d *V4L2Driver) SetFrameRate(fps int) (int, error) {
	var parm v4l2StreamParm
	parm.typ = bufTypeVideoCapture
	if err := xioctl(d.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_PARM: %w", err)
	}
	if parm.capture.capability&capTimePerFrame == 0 {
		return 0, errors.New("フレームレートの変更に対応していない")
	}
	parm.capture.timePerFrame = v4l2Fract{numerator: 1, denominator: uint32(fps)}
	if err := xioctl(d.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return 0, fmt.Errorf("VIDIOC_S_PARM: %w", err)
	}
	tpf := parm.capture.timePerFrame
	if tpf.numerator == 0 {
		return fps, nil
	}
	return int(tpf.denominator / tpf.numerator), nil
}

func (d *V4L2Driver) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := xioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	return int(req.count), nil
}

func (d *V4L2Driver) MapBuffer(index int) ([]byte, error) {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := xioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QUERYBUF %d: %w", index, err)
	}
	mem, err := unix.Mmap(d.fd, int64(uint32(buf.offset)), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d: %w", index, err)
	}
	return mem, nil
}

func (d *V4L2Driver) UnmapBuffer(mem []byte) error {
	return unix.Munmap(mem)
}

func (d *V4L2Driver) Queue(index int) error {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := xioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF %d: %w", index, err)
	}
	return nil
}

func (d *V4L2Driver) Dequeue(timeout time.Duration) (int, int, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return 0, 0, ErrNoFrame
		}
		break
	}

	buf := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := xioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, 0, ErrNoFrame
		}
		return 0, 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return int(buf.index), int(buf.bytesused), nil
}

func (d *V4L2Driver) StreamOn() error {
	typ := int32(bufTypeVideoCapture)
	if err := xioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func (d *V4L2Driver) StreamOff() error {
	typ := int32(bufTypeVideoCapture)
	if err := xioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

func (d *V4L2Driver) SetControl(id ControlID, value int32) error {
	ctrl := v4l2Control{id: uint32(id), value: value}
	if err := xioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL %s: %w", id, err)
	}
	return nil
}

func (d *V4L2Driver) GetControl(id ControlID) (int32, error) {
	ctrl := v4l2Control{id: uint32(id)}
	if err := xioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL %s: %w", id, err)
	}
	return ctrl.value, nil
}

func (d *V4L2Driver) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
