package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"scanrig/internal/monitoring"
	"scanrig/internal/timeutil"
)

// DeviceSpec は Manager に登録するデバイスの指定
type DeviceSpec struct {
	ID       string // 空なら自動採番
	Name     string
	Path     string
	Settings Settings
}

// DeviceSnapshot は状態表示用のデバイス情報
type DeviceSnapshot struct {
	ID      string
	Name    string
	Path    string
	Status  Status
	Error   string
	Format  Format
	FPS     int
	Stats   Stats
	Buffers []BufferState
}

// Manager は登録順に並んだデバイス群を管理する
//
// デバイスの追加は StartAll より前に限られる。撮影は登録順に逐次行い、
// あるデバイスの失敗が他のデバイスの撮影を妨げることはない。
type Manager struct {
	newDriver DriverFactory
	clock     timeutil.Clock
	defaults  Settings

	mu      sync.RWMutex
	devices []*Device
	byID    map[string]*Device
	started bool
}

// NewManager は新しいManagerを作成する
func NewManager(newDriver DriverFactory, clock timeutil.Clock, defaults Settings) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		newDriver: newDriver,
		clock:     clock,
		defaults:  defaults.normalize(),
		byID:      make(map[string]*Device),
	}
}

// AddDevice は既定の設定でデバイスを開いて登録し、IDを返す
//
// 開けなかった場合もエラー状態のデバイスとして登録され、IDとエラーの両方を返す。
func (m *Manager) AddDevice(path string, input int) (string, error) {
	settings := m.defaults
	settings.Input = input
	return m.Add(DeviceSpec{Path: path, Settings: settings})
}

// Add はデバイス指定に従って開いて登録する
func (m *Manager) Add(spec DeviceSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return "", ErrManagerStarted
	}
	if spec.Path == "" {
		return "", fmt.Errorf("デバイスパスが空です")
	}
	for _, d := range m.devices {
		if d.path == spec.Path {
			return "", fmt.Errorf("デバイス %s は既に追加されています", spec.Path)
		}
	}

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := m.byID[id]; exists {
		return "", fmt.Errorf("デバイスID %s は重複しています", id)
	}

	settings := spec.Settings
	if settings == (Settings{}) {
		settings = m.defaults
	}
	d := NewDevice(id, spec.Path, settings, m.newDriver(), m.clock)
	d.name = spec.Name
	m.devices = append(m.devices, d)
	m.byID[id] = d

	if err := d.Open(); err != nil {
		return id, err
	}
	return id, nil
}

// StartAll は登録済みのすべてのデバイスでストリーミングを開始する
func (m *Manager) StartAll() error {
	m.mu.Lock()
	m.started = true
	devices := append([]*Device(nil), m.devices...)
	m.mu.Unlock()

	var errs []error
	for _, d := range devices {
		if d.Status() == StatusError {
			continue
		}
		if err := d.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll はすべてのデバイスのストリーミングを停止する
func (m *Manager) StopAll() error {
	var errs []error
	for _, d := range m.Devices() {
		if err := d.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastControl はすべてのデバイスにコントロールを設定する
//
// 失敗したデバイスがあっても残りには設定を続け、エラーはまとめて返す。
func (m *Manager) BroadcastControl(id ControlID, value int32) error {
	var errs []error
	for _, d := range m.Devices() {
		if d.Status() == StatusError {
			continue
		}
		if err := d.SetControl(id, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetControl は指定デバイスにコントロールを設定する
func (m *Manager) SetControl(deviceID string, id ControlID, value int32) error {
	d, ok := m.Device(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return d.SetControl(id, value)
}

// PullFrames は登録順に各デバイスで1回撮影する
//
// エラー状態や停止中のデバイスは飛ばす。撮影に失敗したデバイスは
// エラー状態になり、以降の呼び出しでは対象外になる。
func (m *Manager) PullFrames(ctx context.Context) error {
	var errs []error
	for _, d := range m.Devices() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if d.Status() != StatusActive {
			continue
		}
		if err := d.CaptureOnce(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Frames は動作中のデバイスの最新フレームを登録順に返す（借用）
func (m *Manager) Frames() []Frame {
	devices := m.Devices()
	frames := make([]Frame, 0, len(devices))
	for _, d := range devices {
		if d.Status() != StatusActive {
			continue
		}
		frames = append(frames, d.LatestFrame())
	}
	return frames
}

// Devices は登録順のデバイス一覧を返す
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Device(nil), m.devices...)
}

// Device は指定されたIDのデバイスを返す
func (m *Manager) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	return d, ok
}

// Snapshot は状態表示用に各デバイスの情報を返す
func (m *Manager) Snapshot() []DeviceSnapshot {
	devices := m.Devices()
	out := make([]DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		f, fps := d.Format()
		s := DeviceSnapshot{
			ID:      d.ID(),
			Name:    d.Name(),
			Path:    d.Path(),
			Status:  d.Status(),
			Format:  f,
			FPS:     fps,
			Stats:   d.Stats(),
			Buffers: d.BufferStates(),
		}
		if err := d.Err(); err != nil {
			s.Error = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Settings は永続化用に各デバイスのコントロール値を返す
func (m *Manager) Settings() []DeviceSettings {
	devices := m.Devices()
	out := make([]DeviceSettings, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Settings())
	}
	return out
}

// RestoreSettings は保存されたコントロール値を対応するデバイスに設定する
//
// デバイスはIDで探し、見つからなければパスで探す。どちらにも該当しない
// 項目は無視する。名前を解釈できないコントロールと設定の失敗はまとめて返す。
func (m *Manager) RestoreSettings(saved []DeviceSettings) error {
	var errs []error
	for _, s := range saved {
		d := m.lookup(s.ID, s.Path)
		if d == nil {
			monitoring.Logf("保存された設定に対応するデバイスがありません: %s (%s)", s.ID, s.Path)
			continue
		}
		if d.Status() == StatusError {
			continue
		}
		for name, value := range s.Controls {
			id, err := ParseControl(name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := d.SetControl(id, value); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(id, path string) *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.byID[id]; ok && id != "" {
		return d
	}
	for _, d := range m.devices {
		if path != "" && d.path == path {
			return d
		}
	}
	return nil
}

// Shutdown はすべてのデバイスを停止してバッファを解放する
func (m *Manager) Shutdown() error {
	var errs []error
	for _, d := range m.Devices() {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		monitoring.Logf("デバイスの解放中にエラーが発生しました: %v", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
