package session

import (
	"sync"
	"sync/atomic"
	"time"

	"scanrig/internal/camera"
)

// Pointer はポインタの状態。Presenter だけが書き込む。
type Pointer struct {
	X, Y   int
	DX, DY int
	Left   bool
	Right  bool
	Middle bool
}

// PointerSample は描画側から渡されるポインタの生の状態
type PointerSample struct {
	X, Y   int
	Inside bool // 描画領域内にあるか
	Left   bool
	Right  bool
	Middle bool
}

// FrameSet はある描画ティックで取得したフレームの不変なコピー
type FrameSet struct {
	Seq    uint64
	Time   time.Time
	Frames []camera.Frame
}

// Context は全モードが参照するセッションの共有状態
//
// フィールド群ごとに書き手は一つに限られる。
//   - 時間（dt、スキャンタイマー）: Loop
//   - ポインタ: Presenter
//   - フレームセット: Presenter
//
// 参照先（Devices など）はセッション開始時に束縛され、以後変わらない。
type Context struct {
	Devices    DeviceSource
	Mesh       MeshBuilder
	Calibrator Calibrator
	Projector  Projector
	Detector   Detector
	View       *ViewCamera
	Board      Chessboard

	timingMu  sync.Mutex
	dt        time.Duration
	scanTimer time.Duration

	pointerMu   sync.Mutex
	pointer     Pointer
	havePointer bool

	selection    atomic.Bool
	showDetected atomic.Bool
	meshVersion  atomic.Uint64
	projSteps    atomic.Uint64
	frames       atomic.Pointer[FrameSet]

	calMu      sync.RWMutex
	intrinsics map[string]Intrinsics
	extrinsics map[string]Extrinsics
}

// NewContext は新しいContextを作成する
func NewContext(devices DeviceSource, mesh MeshBuilder, cal Calibrator, proj Projector, det Detector, board Chessboard) *Context {
	return &Context{
		Devices:    devices,
		Mesh:       mesh,
		Calibrator: cal,
		Projector:  proj,
		Detector:   det,
		View:       NewViewCamera(),
		Board:      board,
		intrinsics: make(map[string]Intrinsics),
		extrinsics: make(map[string]Extrinsics),
	}
}

// DT は直前のループ反復からの経過時間を返す
func (c *Context) DT() time.Duration {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	return c.dt
}

func (c *Context) setDT(dt time.Duration) {
	c.timingMu.Lock()
	c.dt = dt
	c.timingMu.Unlock()
}

// ScanTimer はスキャンタイマーの残りを返す
func (c *Context) ScanTimer() time.Duration {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	return c.scanTimer
}

// accumulateScan は経過時間を積算し、投影機を進める回数を返す。
// 端数は次回に持ち越す。
func (c *Context) accumulateScan(dt, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	c.scanTimer += dt
	n := c.scanTimer / interval
	c.scanTimer -= n * interval
	return int(n)
}

// Pointer はポインタの状態を返す
func (c *Context) Pointer() Pointer {
	c.pointerMu.Lock()
	defer c.pointerMu.Unlock()
	return c.pointer
}

// samplePointer は1ティック分のポインタ移動量を記録する
func (c *Context) samplePointer(s PointerSample) {
	c.pointerMu.Lock()
	defer c.pointerMu.Unlock()
	p := &c.pointer
	if s.Inside {
		if c.havePointer {
			p.DX = s.X - p.X
			p.DY = s.Y - p.Y
		} else {
			p.DX, p.DY = 0, 0
		}
		p.X, p.Y = s.X, s.Y
		c.havePointer = true
	} else {
		p.DX, p.DY = 0, 0
	}
	p.Left, p.Right, p.Middle = s.Left, s.Right, s.Middle
}

// Selection は選択操作が行われたかを返す
func (c *Context) Selection() bool { return c.selection.Load() }

// SetSelection は選択状態を設定する
func (c *Context) SetSelection(v bool) { c.selection.Store(v) }

// ShowDetected は検出点を表示するかを返す
func (c *Context) ShowDetected() bool { return c.showDetected.Load() }

func (c *Context) toggleShowDetected() bool {
	for {
		old := c.showDetected.Load()
		if c.showDetected.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// MeshVersion はメッシュが更新されるたびに増える番号を返す
func (c *Context) MeshVersion() uint64 { return c.meshVersion.Load() }

// MeshUpdated はメッシュの更新を記録する
func (c *Context) MeshUpdated() uint64 { return c.meshVersion.Add(1) }

// ProjectorSteps は投影機を進めた回数を返す
func (c *Context) ProjectorSteps() uint64 { return c.projSteps.Load() }

func (c *Context) advanceProjector() {
	c.projSteps.Add(1)
	if c.Projector != nil {
		c.Projector.Advance()
	}
}

// Frames は最後に公開されたフレームセットを返す。未公開なら空のセット。
func (c *Context) Frames() *FrameSet {
	if fs := c.frames.Load(); fs != nil {
		return fs
	}
	return &FrameSet{}
}

// publishFrames はデバイスのバッファを複製して公開する
func (c *Context) publishFrames(frames []camera.Frame, now time.Time) *FrameSet {
	prev := c.Frames()
	fs := &FrameSet{
		Seq:    prev.Seq + 1,
		Time:   now,
		Frames: make([]camera.Frame, 0, len(frames)),
	}
	for _, f := range frames {
		if f.Empty() {
			continue
		}
		fs.Frames = append(fs.Frames, f.Clone())
	}
	c.frames.Store(fs)
	return fs
}

// SetIntrinsics はデバイスの内部パラメータを記録する
func (c *Context) SetIntrinsics(deviceID string, in Intrinsics) {
	c.calMu.Lock()
	defer c.calMu.Unlock()
	c.intrinsics[deviceID] = in
}

// Intrinsics はデバイスの内部パラメータを返す
func (c *Context) Intrinsics(deviceID string) (Intrinsics, bool) {
	c.calMu.RLock()
	defer c.calMu.RUnlock()
	in, ok := c.intrinsics[deviceID]
	return in, ok
}

// SetExtrinsics はデバイスの姿勢を記録する
func (c *Context) SetExtrinsics(deviceID string, ex Extrinsics) {
	c.calMu.Lock()
	defer c.calMu.Unlock()
	c.extrinsics[deviceID] = ex
}

// Extrinsics はデバイスの姿勢を返す
func (c *Context) Extrinsics(deviceID string) (Extrinsics, bool) {
	c.calMu.RLock()
	defer c.calMu.RUnlock()
	ex, ok := c.extrinsics[deviceID]
	return ex, ok
}

// Calibrated は内部パラメータと姿勢が揃ったデバイス数を返す
func (c *Context) Calibrated() (intrinsics, extrinsics int) {
	c.calMu.RLock()
	defer c.calMu.RUnlock()
	return len(c.intrinsics), len(c.extrinsics)
}
