package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"scanrig/internal/camera"
)

// deviceSettingsFile は保存ファイルの形
type deviceSettingsFile struct {
	Devices []camera.DeviceSettings `yaml:"devices"`
}

// SaveDeviceSettings はデバイスごとのコントロール値を YAML で保存する
func SaveDeviceSettings(path string, settings []camera.DeviceSettings) error {
	data, err := yaml.Marshal(deviceSettingsFile{Devices: settings})
	if err != nil {
		return fmt.Errorf("デバイス設定を変換できません: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// 途中で落ちても前回の内容が残るように置き換えで書く
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("デバイス設定を保存できません: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadDeviceSettings は保存されたコントロール値を読み込む。ファイルがなければ空を返す。
func LoadDeviceSettings(path string) ([]camera.DeviceSettings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f deviceSettingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return f.Devices, nil
}

// SettingsStore はセッション終了時にデバイス設定をファイルへ保存する
type SettingsStore struct {
	Path string
}

// SaveDeviceSettings は Path に保存する。Path が空なら何もしない。
func (s SettingsStore) SaveDeviceSettings(settings []camera.DeviceSettings) error {
	if s.Path == "" {
		return nil
	}
	return SaveDeviceSettings(s.Path, settings)
}
