package session

import (
	"context"
	"sync"
	"time"

	"scanrig/internal/camera"
	"scanrig/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeDevices は呼び出しを記録するDeviceSource
type fakeDevices struct {
	mu       sync.Mutex
	calls    []string
	pulls    int
	frames   []camera.Frame
	pullErr  error
	controls map[string]int32
	settings []camera.DeviceSettings
}

func newFakeDevices(ids ...string) *fakeDevices {
	d := &fakeDevices{controls: make(map[string]int32)}
	for _, id := range ids {
		d.frames = append(d.frames, camera.Frame{DeviceID: id, Width: 2, Height: 1, Data: make([]byte, 6)})
		d.settings = append(d.settings, camera.DeviceSettings{ID: id})
	}
	return d
}

func (d *fakeDevices) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDevices) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevices) StartAll() error { d.record("start"); return nil }

func (d *fakeDevices) PullFrames(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pulls++
	for i := range d.frames {
		d.frames[i].Sequence++
		d.frames[i].Data[0] = byte(d.frames[i].Sequence)
	}
	return d.pullErr
}

func (d *fakeDevices) Frames() []camera.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]camera.Frame(nil), d.frames...)
}

func (d *fakeDevices) SetControl(deviceID string, id camera.ControlID, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.frames {
		if f.DeviceID == deviceID {
			d.controls[deviceID+"/"+id.String()] = value
			return nil
		}
	}
	return camera.ErrDeviceNotFound
}

func (d *fakeDevices) BroadcastControl(id camera.ControlID, value int32) error {
	for _, f := range d.Frames() {
		_ = d.SetControl(f.DeviceID, id, value)
	}
	return nil
}

func (d *fakeDevices) Snapshot() []camera.DeviceSnapshot { return nil }

func (d *fakeDevices) Settings() []camera.DeviceSettings {
	d.record("settings")
	return d.settings
}

func (d *fakeDevices) Shutdown() error { d.record("shutdown"); return nil }

// fakeProjector は投影機の操作を記録する
type fakeProjector struct {
	mu       sync.Mutex
	advances int
	flashes  []bool
	closed   bool
}

func (p *fakeProjector) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advances++
}

func (p *fakeProjector) SetFlash(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flashes = append(p.flashes, on)
}

func (p *fakeProjector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProjector) Advances() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advances
}

func (p *fakeProjector) Flashes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.flashes...)
}

// fakeMesh はメッシュ操作を数える
type fakeMesh struct {
	mu        sync.Mutex
	generated []uint64
	textured  int
	cleared   int
	saved     []string
	loaded    []string
}

func (m *fakeMesh) Generate(fs *FrameSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated = append(m.generated, fs.Seq)
	return nil
}

func (m *fakeMesh) Texture(*FrameSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textured++
	return nil
}

func (m *fakeMesh) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
}

func (m *fakeMesh) SaveToFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, path)
	return nil
}

func (m *fakeMesh) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, path)
	return nil
}

// fakeCalibrator は常にコーナーを見つける
type fakeCalibrator struct {
	mu         sync.Mutex
	found      bool
	finds      int
	intrinsics int
	extrinsics int
}

func (c *fakeCalibrator) FindCorners(camera.Frame, Chessboard) ([]Point2, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	if !c.found {
		return nil, false
	}
	return []Point2{{X: 1, Y: 1}, {X: 2, Y: 2}}, true
}

func (c *fakeCalibrator) CalibrateIntrinsics(views [][]Point2, _ Chessboard, _, _ int) (Intrinsics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrinsics++
	return Intrinsics{RMS: float64(len(views))}, nil
}

func (c *fakeCalibrator) CalibrateExtrinsics([]Point2, Chessboard, Intrinsics) (Extrinsics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extrinsics++
	return Extrinsics{Translation: [3]float64{0, 0, 1}}, nil
}

// recordingSurface は描画呼び出しを順に記録する
type recordingSurface struct {
	mu    sync.Mutex
	calls []string
	grids [][]camera.Frame
}

func (s *recordingSurface) add(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingSurface) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingSurface) DrawCameraGrid(frames []camera.Frame) {
	s.mu.Lock()
	s.grids = append(s.grids, frames)
	s.mu.Unlock()
	s.add("grid")
}
func (s *recordingSurface) DrawDetectedPoints(id string, _ []Point2) { s.add("points:" + id) }
func (s *recordingSurface) DrawMesh(uint64, bool) { s.add("mesh") }
func (s *recordingSurface) DrawToolView(ViewState) { s.add("tool") }
func (s *recordingSurface) DrawStatus(string) { s.add("status") }

// traceMode は呼び出し順を共有ログに記録するテスト用モード
type traceMode struct {
	finishFlag
	id        Identity
	log       *[]string
	enterErr  error
	exits     *int
	onAdvance func(ctx *Context)
}

func (m *traceMode) Identity() Identity { return m.id }

func (m *traceMode) Enter(*Context) error {
	if m.enterErr == nil && m.log != nil {
		*m.log = append(*m.log, "enter:"+string(m.id))
	}
	return m.enterErr
}

func (m *traceMode) Exit(*Context) {
	if m.exits != nil {
		*m.exits++
	}
	if m.log != nil {
		*m.log = append(*m.log, "exit:"+string(m.id))
	}
}

func (m *traceMode) Advance(ctx *Context) {
	if m.log != nil {
		*m.log = append(*m.log, "advance:"+string(m.id))
	}
	if m.onAdvance != nil {
		m.onAdvance(ctx)
	}
}

func (m *traceMode) Render(_ *Context, s Surface) {
	s.DrawStatus(string(m.id))
}

func traced(id Identity, log *[]string) Factory {
	return func() Mode { return &traceMode{id: id, log: log} }
}

func newTestContext(devices DeviceSource) *Context {
	return NewContext(devices, &fakeMesh{}, &fakeCalibrator{found: true}, &fakeProjector{},
		BrightSpotDetector{Threshold: 200}, Chessboard{Cols: 9, Rows: 6, MaxImages: 2})
}
