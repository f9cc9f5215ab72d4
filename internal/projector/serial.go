package projector

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"scanrig/internal/monitoring"
)

// ErrClosed は閉じた投影機への操作で返る
var ErrClosed = errors.New("投影機は閉じています")

// DefaultQueueSize は送信待ちにできる指示の数
const DefaultQueueSize = 64

// Options はシリアル接続の投影機の設定
type Options struct {
	Port      string
	BaudRate  int
	DataBits  int
	StopBits  int
	Parity    string // N, E, O
	Width     int
	Height    int
	Step      int
	QueueSize int
}

// normalize は未設定の値に既定値を入れて検証する
func (o Options) normalize() (Options, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 115200
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("データビット %d は不正です (5〜8)", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("ストップビット %d は不正です (1か2)", o.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(o.Parity)) {
	case "", "N", "NONE":
		o.Parity = "N"
	case "E", "EVEN":
		o.Parity = "E"
	case "O", "ODD":
		o.Parity = "O"
	default:
		return o, fmt.Errorf("パリティ %q には対応していません", o.Parity)
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o, nil
}

// serialMode は go.bug.st/serial のポート設定に変換する
func (o Options) serialMode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch o.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	if o.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// Serial はシリアル回線で位置 (`P x y`) と照明 (`F 0|1`) を送る投影機
//
// Advance と SetFlash は送信キューに積むだけで待たない。キューが一杯の
// ときは指示を捨ててログに残す。
type Serial struct {
	port    io.WriteCloser
	pattern *Pattern

	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	flash   atomic.Bool
	sent    atomic.Uint64
	dropped atomic.Uint64
	lastErr atomic.Pointer[error]
}

// OpenSerial はシリアルポートを開いて投影機を作成する
func OpenSerial(opts Options) (*Serial, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(opts.Port, opts.serialMode())
	if err != nil {
		return nil, fmt.Errorf("投影機のポート %s を開けません: %w", opts.Port, err)
	}
	monitoring.Logf("投影機を %s (%d bps) に接続しました", opts.Port, opts.BaudRate)
	return NewSerial(port, NewPattern(opts.Width, opts.Height, opts.Step), opts.QueueSize), nil
}

// NewSerial は任意の書き込み先を使う投影機を作成する
func NewSerial(port io.WriteCloser, pattern *Pattern, queueSize int) *Serial {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Serial{
		port:    port,
		pattern: pattern,
		lines:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

func (s *Serial) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case line := <-s.lines:
			s.write(line)
		case <-s.done:
			// 残りを書き出してから終わる
			for {
				select {
				case line := <-s.lines:
					s.write(line)
				default:
					return
				}
			}
		}
	}
}

func (s *Serial) write(line string) {
	if _, err := io.WriteString(s.port, line); err != nil {
		s.lastErr.Store(&err)
		monitoring.Logf("投影機への送信に失敗しました: %v", err)
		return
	}
	s.sent.Add(1)
}

func (s *Serial) enqueue(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
		monitoring.Logf("投影機の送信キューが一杯のため %q を捨てました", strings.TrimSpace(line))
	}
}

// Advance は点を次の位置へ進める
func (s *Serial) Advance() {
	x, y := s.pattern.Next()
	s.enqueue(fmt.Sprintf("P %d %d\n", x, y))
}

// SetFlash は全面照明を切り替える
func (s *Serial) SetFlash(on bool) {
	s.flash.Store(on)
	v := 0
	if on {
		v = 1
	}
	s.enqueue(fmt.Sprintf("F %d\n", v))
}

// Flash は照明の状態を返す
func (s *Serial) Flash() bool { return s.flash.Load() }

// Position は現在の点の位置を返す
func (s *Serial) Position() (int, int) { return s.pattern.Position() }

// Sent は送信できた指示の数を返す
func (s *Serial) Sent() uint64 { return s.sent.Load() }

// Dropped はキューが一杯で捨てた指示の数を返す
func (s *Serial) Dropped() uint64 { return s.dropped.Load() }

// Err は最後の送信エラーを返す
func (s *Serial) Err() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close は照明を消し、送信待ちを書き出してからポートを閉じる
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		s.SetFlash(false)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.wg.Wait()
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
