package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockDriver はテスト用のDriver実装
//
// 投入されたバッファをFIFOで返し、YUYVの縞模様で埋める。
// 各フィールドでオープン失敗やフォーマット変更、N回目以降の失敗を再現できる。
type MockDriver struct {
	mu sync.Mutex

	// 挙動の設定
	OpenErr          error
	Cap              Capability
	ForceFormat      *Format // SetFormat がこの値を返す
	FormatErr        error
	GrantBuffers     int // 0 なら要求どおり
	FailDequeueAfter int // 0 なら失敗しない。N回成功したあと失敗
	FailQueueAfter   int // 0 なら失敗しない。N回成功したあと失敗
	ControlErr       error
	NoFrame          bool          // Dequeue が常に ErrNoFrame を返す
	DequeueBlock     chan struct{} // 非nilなら Dequeue は受信できるまで待つ

	// 観測用
	path      string
	format    Format
	fps       int
	buffers   [][]byte
	queued    []int
	streaming bool
	closed    bool
	dequeues  int
	queues    int
	unmapped  int
	controls  map[ControlID]int32
	input     int
	blocked   atomic.Int32
}

// NewMockDriver は撮影可能なMockDriverを作成する
func NewMockDriver() *MockDriver {
	return &MockDriver{
		Cap: Capability{
			Driver:       "mock",
			Card:         "Mock Camera",
			BusInfo:      "mock:0",
			Capabilities: CapVideoCapture | CapStreaming,
		},
		controls: make(map[ControlID]int32),
		input:    -1,
	}
}

// Factory は常に同じMockDriverを返すDriverFactoryを作る
func (m *MockDriver) Factory() DriverFactory {
	return func() Driver { return m }
}

func (m *MockDriver) Open(path string) (Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return Capability{}, m.OpenErr
	}
	m.path = path
	m.closed = false
	return m.Cap, nil
}

func (m *MockDriver) SetInput(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.input = index
	return nil
}

func (m *MockDriver) SetFormat(f Format) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FormatErr != nil {
		return Format{}, m.FormatErr
	}
	if m.ForceFormat != nil {
		f = *m.ForceFormat
	}
	m.format = f
	return f, nil
}

func (m *MockDriver) SetFrameRate(fps int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fps = fps
	return fps, nil
}

func (m *MockDriver) RequestBuffers(count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GrantBuffers > 0 && m.GrantBuffers < count {
		count = m.GrantBuffers
	}
	size := m.format.Width * m.format.Height * 2
	if m.format.PixelFormat == PixelFormatRGB24 {
		size = m.format.Width * m.format.Height * 3
	}
	m.buffers = make([][]byte, count)
	for i := range m.buffers {
		m.buffers[i] = make([]byte, size)
	}
	return count, nil
}

func (m *MockDriver) MapBuffer(index int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.buffers) {
		return nil, fmt.Errorf("範囲外のバッファ: %d", index)
	}
	return m.buffers[index], nil
}

func (m *MockDriver) UnmapBuffer(_ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapped++
	return nil
}

func (m *MockDriver) Queue(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailQueueAfter > 0 && m.queues >= m.FailQueueAfter {
		return errors.New("mock: QBUF失敗")
	}
	for _, q := range m.queued {
		if q == index {
			return fmt.Errorf("mock: バッファ %d は投入済み", index)
		}
	}
	m.queues++
	m.queued = append(m.queued, index)
	return nil
}

func (m *MockDriver) Dequeue(_ time.Duration) (int, int, error) {
	if m.DequeueBlock != nil {
		m.blocked.Add(1)
		<-m.DequeueBlock
		m.blocked.Add(-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.streaming {
		return 0, 0, errors.New("mock: ストリーミングしていない")
	}
	if m.FailDequeueAfter > 0 && m.dequeues >= m.FailDequeueAfter {
		return 0, 0, errors.New("mock: DQBUF失敗")
	}
	if m.NoFrame || len(m.queued) == 0 {
		return 0, 0, ErrNoFrame
	}
	m.dequeues++
	index := m.queued[0]
	m.queued = m.queued[1:]
	buf := m.buffers[index]
	fillStripes(buf, m.dequeues)
	return index, len(buf), nil
}

// Blocked は DequeueBlock で待っている Dequeue があるかを返す
func (m *MockDriver) Blocked() bool { return m.blocked.Load() > 0 }

// fillStripes はYUYVの縞模様で埋める
func fillStripes(buf []byte, seq int) {
	for i := 0; i+3 < len(buf); i += 4 {
		y := byte((i/4 + seq) % 256)
		buf[i] = y
		buf[i+1] = 128
		buf[i+2] = y
		buf[i+3] = 128
	}
}

func (m *MockDriver) StreamOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = true
	return nil
}

func (m *MockDriver) StreamOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// STREAMOFF はカーネル側の投入済みバッファをすべて取り除く
	m.streaming = false
	m.queued = nil
	return nil
}

func (m *MockDriver) SetControl(id ControlID, value int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ControlErr != nil {
		return m.ControlErr
	}
	m.controls[id] = value
	return nil
}

func (m *MockDriver) GetControl(id ControlID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.controls[id]
	if !ok {
		return 0, fmt.Errorf("mock: コントロール %s は未設定", id)
	}
	return v, nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.streaming = false
	m.queued = nil
	return nil
}

// Dequeues は成功した取り出しの回数を返す
func (m *MockDriver) Dequeues() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dequeues
}

// Queued はカーネル側に投入中のバッファ数を返す
func (m *MockDriver) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// Closed はClose済みかどうか
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Unmapped はUnmapBufferの呼び出し回数を返す
func (m *MockDriver) Unmapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmapped
}

// Control は最後に設定されたコントロール値を返す
func (m *MockDriver) Control(id ControlID) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.controls[id]
	return v, ok
}

// Input は選択された入力番号を返す
func (m *MockDriver) Input() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}
