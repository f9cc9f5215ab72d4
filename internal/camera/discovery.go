package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	newDriver DriverFactory
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery(newDriver DriverFactory) Discovery {
	return &LinuxDiscovery{newDriver: newDriver}
}

// ScanDevices は撮影可能な /dev/video* を番号順に返す
//
// 同じ物理カメラ（バス情報が同じ）が複数のノードを持つ場合は番号の小さい方だけを返す。
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		info, err := d.GetDeviceInfo(ctx, match)
		if err != nil {
			continue
		}
		if info.BusInfo != "" && seen[info.BusInfo] {
			continue
		}
		seen[info.BusInfo] = true
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスがストリーミング撮影できるかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(ctx context.Context, device string) bool {
	_, err := d.GetDeviceInfo(ctx, device)
	return err == nil
}

// GetDeviceInfo はQUERYCAPでデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	if !videoDevicePattern.MatchString(device) {
		return nil, fmt.Errorf("ビデオデバイスではありません: %s", device)
	}
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	drv := d.newDriver()
	capability, err := drv.Open(device)
	if err != nil {
		return nil, fmt.Errorf("デバイスが利用できません: %s: %w", device, err)
	}
	defer func() {
		_ = drv.Close()
	}()
	if !capability.CanStream() {
		return nil, fmt.Errorf("撮影用のデバイスではありません: %s", device)
	}

	name := capability.Card
	if name == "" {
		name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}
	return &DeviceInfo{
		Device:  device,
		Name:    name,
		Driver:  capability.Driver,
		BusInfo: capability.BusInfo,
	}, nil
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := videoDevicePattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	}

	// コピーを返す
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	if _, exists := m.deviceInfos[device]; exists {
		return
	}
	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device:  device,
		Name:    fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:  "mock",
		BusInfo: "mock:" + device,
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
