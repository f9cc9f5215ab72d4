package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"scanrig/internal/camera"
	"scanrig/internal/monitoring"
	"scanrig/internal/timeutil"
)

var (
	ErrStopped     = errors.New("セッションは停止済み")
	ErrUnknownMode = errors.New("不明なモード")
)

// DefaultScanInterval は投影パターンを進める既定の間隔
const DefaultScanInterval = 200 * time.Millisecond

var exclusiveModes = map[Identity]Factory{
	IdentityScan:            newScanMode,
	IdentityCalibrateCamera: newCalibrateCameraMode,
	IdentityCalibrateWorld:  newCalibrateWorldMode,
	IdentityTexture:         newTextureMode,
}

var overlayModes = map[Identity]Factory{
	IdentityShowCameras: newShowCamerasMode,
	IdentityToolView:    newToolViewMode,
	IdentityDrawMesh:    newDrawMeshMode,
}

// IsExclusive は排他モードの種類かどうかを返す
func IsExclusive(id Identity) bool {
	_, ok := exclusiveModes[id]
	return ok
}

// IsOverlay は重ね表示モードの種類かどうかを返す
func IsOverlay(id Identity) bool {
	_, ok := overlayModes[id]
	return ok
}

// Options はセッションの動作設定
type Options struct {
	ScanInterval time.Duration
	MinTick      time.Duration
	Board        Chessboard
	Detector     Detector
	Clock        timeutil.Clock
	Store        SettingsStore
}

// Status はセッションの状態
type Status struct {
	Loop           LoopState               `json:"loop"`
	Exclusive      Identity                `json:"exclusive,omitempty"`
	Overlays       []Identity              `json:"overlays"`
	ShowDetected   bool                    `json:"show_detected"`
	FPS            float64                 `json:"fps"`
	MeshVersion    uint64                  `json:"mesh_version"`
	ProjectorSteps uint64                  `json:"projector_steps"`
	Intrinsics     int                     `json:"intrinsics"`
	Extrinsics     int                     `json:"extrinsics"`
	Devices        []camera.DeviceSnapshot `json:"devices"`
}

// Session はホストアプリケーションに公開する操作の窓口
type Session struct {
	ctx       *Context
	stack     *ExclusiveStack
	overlays  *OverlaySet
	loop      *Loop
	presenter *Presenter
	store     SettingsStore

	presentMu sync.Mutex
	// toggleMu は Toggle と停止の開始を排他にする
	toggleMu  sync.RWMutex
	stopped   atomic.Bool
	stopOnce  sync.Once
	stopErr   error
}

// New は新しいSessionを作成する
func New(devices DeviceSource, mesh MeshBuilder, cal Calibrator, proj Projector, opts Options) *Session {
	if mesh == nil {
		mesh = NopMeshBuilder{}
	}
	if cal == nil {
		cal = NopCalibrator{}
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Detector == nil {
		opts.Detector = BrightSpotDetector{Threshold: 200}
	}

	ctx := NewContext(devices, mesh, cal, proj, opts.Detector, opts.Board)
	stack := NewExclusiveStack()
	overlays := NewOverlaySet()
	return &Session{
		ctx:       ctx,
		stack:     stack,
		overlays:  overlays,
		loop:      NewLoop(ctx, stack, overlays, opts.Clock, opts.ScanInterval, opts.MinTick),
		presenter: NewPresenter(ctx, stack, overlays, opts.Clock),
		store:     opts.Store,
	}
}

// Context はセッションの共有状態を返す
func (s *Session) Context() *Context { return s.ctx }

// Loop はセッションループを返す
func (s *Session) Loop() *Loop { return s.loop }

// Start はデバイスのストリーミングを開始してからループを起動する。
// 一部のデバイスが開始できなくても残りで続行する。
func (s *Session) Start() error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if err := s.ctx.Devices.StartAll(); err != nil {
		monitoring.Logf("一部のデバイスを開始できませんでした: %v", err)
	}
	s.loop.Start()
	monitoring.Logf("セッションを開始しました")
	return nil
}

// TogglePause は一時停止を切り替えて、切り替え後の状態を返す
func (s *Session) TogglePause() LoopState {
	return s.loop.TogglePause()
}

// Toggle は指定された種類のモードを切り替え、操作後に有効かどうかを返す
func (s *Session) Toggle(id Identity) (bool, error) {
	s.toggleMu.RLock()
	defer s.toggleMu.RUnlock()
	if s.stopped.Load() {
		return false, ErrStopped
	}
	if f, ok := exclusiveModes[id]; ok {
		return s.stack.Toggle(s.ctx, id, f)
	}
	if f, ok := overlayModes[id]; ok {
		return s.overlays.Toggle(s.ctx, id, f)
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownMode, id)
}

// ToggleScan はスキャンを切り替える
func (s *Session) ToggleScan() (bool, error) { return s.Toggle(IdentityScan) }

// ToggleCalibrateCameras はカメラ校正を切り替える
func (s *Session) ToggleCalibrateCameras() (bool, error) { return s.Toggle(IdentityCalibrateCamera) }

// ToggleCalibrateWorld はワールド座標の校正を切り替える
func (s *Session) ToggleCalibrateWorld() (bool, error) { return s.Toggle(IdentityCalibrateWorld) }

// ToggleTexturing はテクスチャ取得を切り替える
func (s *Session) ToggleTexturing() (bool, error) { return s.Toggle(IdentityTexture) }

// ToggleShowCameras はカメラ映像の表示を切り替える
func (s *Session) ToggleShowCameras() (bool, error) { return s.Toggle(IdentityShowCameras) }

// ToggleToolView はツールビューを切り替える
func (s *Session) ToggleToolView() (bool, error) { return s.Toggle(IdentityToolView) }

// ToggleDrawFilledMesh は塗りつぶしメッシュの表示を切り替える
func (s *Session) ToggleDrawFilledMesh() (bool, error) { return s.Toggle(IdentityDrawMesh) }

// ToggleDetected はスキャン中に限り検出点の表示を切り替え、表示状態を返す
func (s *Session) ToggleDetected() bool {
	if id, ok := s.stack.Current(); ok && id == IdentityScan {
		return s.ctx.toggleShowDetected()
	}
	return s.ctx.ShowDetected()
}

// CurrentMode は有効な排他モードを返す
func (s *Session) CurrentMode() (Identity, bool) { return s.stack.Current() }

// Overlays は有効な重ね表示モードを追加順に返す
func (s *Session) Overlays() []Identity { return s.overlays.Identities() }

// SetDeviceControl は1台のデバイスにコントロールを設定する。
// 失敗はログに残して呼び出し元に返すだけで、撮影には影響しない。
func (s *Session) SetDeviceControl(deviceID string, id camera.ControlID, value int32) error {
	if err := s.ctx.Devices.SetControl(deviceID, id, value); err != nil {
		monitoring.Logf("コントロール %s=%d を設定できません: %v", id, value, err)
		return err
	}
	return nil
}

// BroadcastControl は全デバイスにコントロールを設定する
func (s *Session) BroadcastControl(id camera.ControlID, value int32) error {
	if err := s.ctx.Devices.BroadcastControl(id, value); err != nil {
		monitoring.Logf("コントロール %s=%d を一部のデバイスに設定できません: %v", id, value, err)
		return err
	}
	return nil
}

// GenerateMesh は最新のフレームセットからメッシュを生成する
func (s *Session) GenerateMesh() error {
	if err := s.ctx.Mesh.Generate(s.ctx.Frames()); err != nil {
		return fmt.Errorf("メッシュの生成に失敗: %w", err)
	}
	s.ctx.MeshUpdated()
	return nil
}

// ClearMesh はメッシュを破棄する
func (s *Session) ClearMesh() {
	s.ctx.Mesh.Clear()
	s.ctx.MeshUpdated()
}

// SaveMesh はメッシュをファイルに保存する
func (s *Session) SaveMesh(path string) error {
	if err := s.ctx.Mesh.SaveToFile(path); err != nil {
		return fmt.Errorf("メッシュの保存に失敗: %w", err)
	}
	return nil
}

// LoadMesh はメッシュをファイルから読み込む
func (s *Session) LoadMesh(path string) error {
	if err := s.ctx.Mesh.LoadFile(path); err != nil {
		return fmt.Errorf("メッシュの読み込みに失敗: %w", err)
	}
	s.ctx.MeshUpdated()
	return nil
}

// Zoom は視点カメラを近づける（負で遠ざける）
func (s *Session) Zoom(delta float64) {
	s.ctx.View.Zoom(delta)
}

// SetSelection は選択状態を設定する。選択中はドラッグで視点を回転しない。
func (s *Session) SetSelection(v bool) {
	s.ctx.SetSelection(v)
}

// Present は描画ティックを1回実行する。一時停止中と停止後は何もしない。
func (s *Session) Present(c context.Context, surface Surface, sample PointerSample) error {
	s.presentMu.Lock()
	defer s.presentMu.Unlock()
	if s.stopped.Load() {
		return ErrStopped
	}
	if s.loop.State() == LoopPaused {
		return nil
	}
	return s.presenter.Tick(c, surface, sample)
}

// Frames は最後に公開されたフレームセットを返す
func (s *Session) Frames() *FrameSet {
	return s.ctx.Frames()
}

// Status は現在の状態を返す
func (s *Session) Status() Status {
	st := Status{
		Loop:           s.loop.State(),
		Overlays:       s.overlays.Identities(),
		ShowDetected:   s.ctx.ShowDetected(),
		FPS:            s.presenter.FPS(),
		MeshVersion:    s.ctx.MeshVersion(),
		ProjectorSteps: s.ctx.ProjectorSteps(),
		Devices:        s.ctx.Devices.Snapshot(),
	}
	if id, ok := s.stack.Current(); ok {
		st.Exclusive = id
	}
	st.Intrinsics, st.Extrinsics = s.ctx.Calibrated()
	return st
}

// Stop はループを止めて終了を待ち、モードを片付け、デバイス設定を保存してから
// デバイスを解放する。何度呼んでも処理は一度だけ行われる。
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		// 実行中の Toggle を待つ。以後の Toggle は ErrStopped になる。
		s.toggleMu.Lock()
		s.stopped.Store(true)
		s.toggleMu.Unlock()
		s.loop.Stop()

		// 実行中の描画ティックの終了を待つ
		s.presentMu.Lock()
		defer s.presentMu.Unlock()

		s.stack.Clear(s.ctx)
		s.overlays.Clear(s.ctx)

		var errs []error
		if s.store != nil {
			if err := s.store.SaveDeviceSettings(s.ctx.Devices.Settings()); err != nil {
				errs = append(errs, fmt.Errorf("デバイス設定の保存に失敗: %w", err))
			}
		}
		if err := s.ctx.Devices.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		if c, ok := s.ctx.Projector.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("投影機の終了に失敗: %w", err))
			}
		}
		s.stopErr = errors.Join(errs...)
		monitoring.Logf("セッションを停止しました")
	})
	return s.stopErr
}
