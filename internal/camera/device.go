package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scanrig/internal/monitoring"
	"scanrig/internal/timeutil"
)

// Device は1台のV4L2デバイスのハンドル
//
// バッファ群の確保と解放、取り出し・変換・再投入の1サイクル、
// フレームレートに合わせたペース配分を担う。フレームバッファは撮影を
// 呼び出すゴルーチンだけが読み書きする前提で、ロックで保護しない。
type Device struct {
	id      string
	name    string
	path    string
	want    Settings
	driver  Driver
	clock   timeutil.Clock
	convert convertFunc

	// captureMu は撮影サイクルと開始・停止・解放を直列化する
	captureMu sync.Mutex
	pool      *bufferPool
	streaming bool
	format    Format
	fps       int
	period    time.Duration

	frame []byte
	seq   uint64
	stamp time.Time

	// mu は他のゴルーチンから参照される状態を保護する
	mu       sync.RWMutex
	status   Status
	err      error
	opened   bool
	closed   bool
	info     Capability
	stats    Stats
	controls map[ControlID]int32
	// 撮影サイクルの終わりに写す状態表示用のコピー
	shownFormat  Format
	shownFPS     int
	shownBuffers []BufferState

	closeOnce sync.Once
	closeErr  error
}

// NewDevice は未オープンのDeviceを作成する
func NewDevice(id, path string, settings Settings, driver Driver, clock timeutil.Clock) *Device {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Device{
		id:       id,
		path:     path,
		want:     settings.normalize(),
		driver:   driver,
		clock:    clock,
		status:   StatusInactive,
		controls: make(map[ControlID]int32),
	}
}

// Open はデバイスを開き、フォーマットとフレームレートを設定してバッファをマップする
//
// 失敗した場合デバイスはエラー状態になり、以後撮影対象から外れる。
func (d *Device) Open() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	defer d.publishLocked()

	d.mu.RLock()
	done := d.opened || d.closed
	d.mu.RUnlock()
	if done {
		return deviceError(ErrDeviceOpen, d.path, errors.New("既に開かれている"))
	}

	if err := d.open(); err != nil {
		d.markFailed(err)
		d.releaseLocked()
		return err
	}

	d.mu.Lock()
	d.opened = true
	d.mu.Unlock()
	monitoring.Logf("デバイス %s を開きました: %dx%d %s %dfps バッファ%d枚",
		d.path, d.format.Width, d.format.Height, d.format.PixelFormat, d.fps, d.pool.len())
	return nil
}

func (d *Device) open() error {
	capability, err := d.driver.Open(d.path)
	if err != nil {
		return deviceError(ErrDeviceOpen, d.path, err)
	}
	if !capability.CanStream() {
		return deviceError(ErrDeviceOpen, d.path, errors.New("ストリーミング撮影に対応していない"))
	}
	d.mu.Lock()
	d.info = capability
	if d.name == "" {
		d.name = capability.Card
	}
	d.mu.Unlock()

	if d.want.Input >= 0 {
		if err := d.driver.SetInput(d.want.Input); err != nil {
			return deviceError(ErrDeviceOpen, d.path, err)
		}
	}

	requested := Format{Width: d.want.Width, Height: d.want.Height, PixelFormat: d.want.PixelFormat}
	got, err := d.driver.SetFormat(requested)
	if err != nil {
		return deviceError(ErrFormatNegotiation, d.path, err)
	}
	if got.PixelFormat != requested.PixelFormat {
		return deviceError(ErrFormatNegotiation, d.path,
			fmt.Errorf("%s を要求したが %s が返された", requested.PixelFormat, got.PixelFormat))
	}
	if got.Width <= 0 || got.Height <= 0 {
		return deviceError(ErrFormatNegotiation, d.path, fmt.Errorf("不正な画像サイズ %dx%d", got.Width, got.Height))
	}
	if got.Width != requested.Width || got.Height != requested.Height {
		monitoring.Logf("デバイス %s: %dx%d の代わりに %dx%d が設定されました",
			d.path, requested.Width, requested.Height, got.Width, got.Height)
	}
	convert, ok := converterFor(got.PixelFormat)
	if !ok {
		return deviceError(ErrFormatNegotiation, d.path, fmt.Errorf("%s は変換できない", got.PixelFormat))
	}
	d.format = got
	d.convert = convert

	d.fps = d.want.FPS
	if fps, err := d.driver.SetFrameRate(d.want.FPS); err != nil {
		monitoring.Logf("デバイス %s: フレームレートを設定できません（%dfpsとして扱います）: %v", d.path, d.want.FPS, err)
	} else if fps > 0 {
		d.fps = fps
	}
	d.period = time.Second / time.Duration(d.fps)

	n, err := d.driver.RequestBuffers(d.want.Buffers)
	if err != nil {
		return deviceError(ErrDeviceOpen, d.path, err)
	}
	if n <= 0 {
		return deviceError(ErrDeviceOpen, d.path, errors.New("バッファが確保されなかった"))
	}
	if n > MaxBuffers {
		n = MaxBuffers
	}

	mems := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		mem, err := d.driver.MapBuffer(i)
		if err != nil {
			for _, m := range mems {
				_ = d.driver.UnmapBuffer(m)
			}
			return deviceError(ErrDeviceOpen, d.path, err)
		}
		mems = append(mems, mem)
	}
	d.pool = newBufferPool(mems)
	d.frame = make([]byte, got.Width*got.Height*3)
	return nil
}

// Start はすべての未使用バッファを投入してストリーミングを開始する。
// 開始済みなら何もしない。
func (d *Device) Start() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	defer d.publishLocked()

	if err := d.usable(); err != nil {
		return err
	}
	if d.streaming {
		return nil
	}

	for i := 0; i < d.pool.len(); i++ {
		if d.pool.states[i] != BufferFree {
			continue
		}
		if err := d.driver.Queue(i); err != nil {
			err = deviceError(ErrRequeue, d.path, err)
			d.markFailed(err)
			d.streamOffLocked()
			return err
		}
		if err := d.pool.markQueued(i); err != nil {
			return deviceError(ErrRequeue, d.path, err)
		}
	}

	if err := d.driver.StreamOn(); err != nil {
		err = deviceError(ErrDeviceOpen, d.path, err)
		d.markFailed(err)
		d.streamOffLocked()
		return err
	}
	d.streaming = true
	d.setStatus(StatusActive)
	return nil
}

// Stop はストリーミングを停止する。停止済みや開始途中の失敗後でも安全に呼べる。
func (d *Device) Stop() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	defer d.publishLocked()

	if d.pool == nil {
		return nil
	}
	wasStreaming := d.streaming
	err := d.streamOffLocked()
	if wasStreaming && d.Status() != StatusError {
		d.setStatus(StatusInactive)
	}
	return err
}

// streamOffLocked はカーネルからすべてのバッファを回収する
func (d *Device) streamOffLocked() error {
	if d.pool == nil || (!d.streaming && d.pool.count(BufferQueued) == 0) {
		return nil
	}
	err := d.driver.StreamOff()
	d.streaming = false
	d.pool.resetAll()
	if err != nil {
		return fmt.Errorf("デバイス %s のストリーミング停止に失敗: %w", d.path, err)
	}
	return nil
}

// CaptureOnce は1フレームを取り出してRGBに変換し、バッファを再投入する
//
// 成功後はフレーム周期の残り時間だけ待機する。待機時間内にフレームが
// 届かなかった場合は最新フレームを更新せずに成功扱いで戻る。取り出しや
// 再投入に失敗するとデバイスはエラー状態になり、以後 ErrDeviceFailed を返す。
func (d *Device) CaptureOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := d.clock.Now()
	if err := d.captureFrame(start); err != nil {
		return err
	}
	d.pace(start)
	return nil
}

func (d *Device) captureFrame(now time.Time) error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	defer d.publishLocked()

	if err := d.usable(); err != nil {
		return err
	}
	if !d.streaming {
		return deviceError(ErrNotStreaming, d.path, nil)
	}

	index, used, err := d.driver.Dequeue(d.period)
	if errors.Is(err, ErrNoFrame) {
		d.mu.Lock()
		d.stats.Missed++
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		err = deviceError(ErrDequeue, d.path, err)
		d.failLocked(err)
		return err
	}
	if err := d.pool.markFilled(index); err != nil {
		err = deviceError(ErrDequeue, d.path, err)
		d.failLocked(err)
		return err
	}

	mem := d.pool.mem(index)
	if used <= 0 || used > len(mem) {
		used = len(mem)
	}
	convErr := d.convert(d.frame, mem[:used], d.format.Width, d.format.Height)

	if err := d.driver.Queue(index); err != nil {
		_ = d.pool.markFree(index)
		err = deviceError(ErrRequeue, d.path, err)
		d.failLocked(err)
		return err
	}
	if err := d.pool.markQueued(index); err != nil {
		err = deviceError(ErrRequeue, d.path, err)
		d.failLocked(err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if convErr != nil {
		d.stats.Corrupt++
		monitoring.Logf("デバイス %s: フレームを変換できません: %v", d.path, convErr)
		return nil
	}
	d.seq++
	d.stamp = now
	d.stats.Captured++
	return nil
}

// pace はフレーム周期の残りだけ待機する
func (d *Device) pace(start time.Time) {
	if d.period <= 0 {
		return
	}
	if remaining := d.period - d.clock.Since(start); remaining > 0 {
		d.clock.Sleep(remaining)
	}
}

// usable は撮影・開始できる状態かを確認する（captureMu保持中に呼ぶ）
func (d *Device) usable() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.status == StatusError {
		return deviceError(ErrDeviceFailed, d.path, d.err)
	}
	if d.closed || !d.opened || d.pool == nil {
		return deviceError(ErrDeviceFailed, d.path, errors.New("デバイスが開かれていない"))
	}
	return nil
}

func (d *Device) failLocked(err error) {
	d.markFailed(err)
	if serr := d.streamOffLocked(); serr != nil {
		monitoring.Logf("%v", serr)
	}
}

func (d *Device) markFailed(err error) {
	d.mu.Lock()
	d.status = StatusError
	d.err = err
	d.mu.Unlock()
	monitoring.Logf("デバイス %s を停止しました: %v", d.path, err)
}

func (d *Device) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// Close はストリーミングを止めてバッファを解放し、デバイスを閉じる。
// 何度呼んでも解放は一度だけ行われる。
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.captureMu.Lock()
		defer d.captureMu.Unlock()
		defer d.publishLocked()
		d.closeErr = d.releaseLocked()
	})
	return d.closeErr
}

func (d *Device) releaseLocked() error {
	var errs []error
	if err := d.streamOffLocked(); err != nil {
		errs = append(errs, err)
	}
	if d.pool != nil {
		for i := 0; i < d.pool.len(); i++ {
			if err := d.driver.UnmapBuffer(d.pool.mem(i)); err != nil {
				errs = append(errs, fmt.Errorf("バッファ %d の解放に失敗: %w", i, err))
			}
		}
		d.pool = nil
	}
	if d.Status() != StatusError {
		d.setStatus(StatusInactive)
	}
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	d.mu.Unlock()
	if !alreadyClosed {
		if err := d.driver.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetControl はV4L2コントロールを設定する
func (d *Device) SetControl(id ControlID, value int32) error {
	d.mu.RLock()
	closed := d.closed || !d.opened
	d.mu.RUnlock()
	if closed {
		return deviceError(ErrControl, d.path, fmt.Errorf("%s: デバイスが開かれていない", id))
	}
	if err := d.driver.SetControl(id, value); err != nil {
		return deviceError(ErrControl, d.path, err)
	}
	d.mu.Lock()
	d.controls[id] = value
	d.mu.Unlock()
	return nil
}

// GetControl はV4L2コントロールの現在値を取得する
func (d *Device) GetControl(id ControlID) (int32, error) {
	d.mu.RLock()
	closed := d.closed || !d.opened
	d.mu.RUnlock()
	if closed {
		return 0, deviceError(ErrControl, d.path, fmt.Errorf("%s: デバイスが開かれていない", id))
	}
	v, err := d.driver.GetControl(id)
	if err != nil {
		return 0, deviceError(ErrControl, d.path, err)
	}
	return v, nil
}

// LatestFrame は最後に変換したフレームを返す。Data は内部バッファの借用。
func (d *Device) LatestFrame() Frame {
	d.mu.RLock()
	seq, stamp := d.seq, d.stamp
	d.mu.RUnlock()
	return Frame{
		DeviceID:  d.id,
		Width:     d.format.Width,
		Height:    d.format.Height,
		Data:      d.frame,
		Sequence:  seq,
		Timestamp: stamp,
	}
}

// ID はデバイスIDを返す
func (d *Device) ID() string { return d.id }

// Path はデバイスパスを返す
func (d *Device) Path() string { return d.path }

// Name はデバイスの表示名を返す
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Status は現在の状態を返す
func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Err はエラー状態になった原因を返す
func (d *Device) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// Stats は撮影の統計情報を返す
func (d *Device) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// publishLocked はフォーマットとバッファ状態を状態表示用に写す。
// captureMu を保持し、mu を保持していない状態で呼ぶ。
func (d *Device) publishLocked() {
	var states []BufferState
	if d.pool != nil {
		states = d.pool.snapshot()
	}
	d.mu.Lock()
	d.shownFormat = d.format
	d.shownFPS = d.fps
	d.shownBuffers = states
	d.mu.Unlock()
}

// Format はネゴシエーション済みのフォーマットと実効フレームレートを返す
func (d *Device) Format() (Format, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shownFormat, d.shownFPS
}

// Capability はQUERYCAPの結果を返す
func (d *Device) Capability() Capability {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info
}

// BufferStates はバッファごとの所有状態を返す
//
// 撮影中でも待たずに、直前のサイクル終了時点の状態を返す。
func (d *Device) BufferStates() []BufferState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.shownBuffers == nil {
		return nil
	}
	return append([]BufferState(nil), d.shownBuffers...)
}

// Settings は永続化用に設定済みのコントロール値を返す
func (d *Device) Settings() DeviceSettings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	controls := make(map[string]int32, len(d.controls))
	for id, v := range d.controls {
		controls[id.String()] = v
	}
	return DeviceSettings{ID: d.id, Path: d.path, Controls: controls}
}
