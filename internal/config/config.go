package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"scanrig/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Camera     CameraConfig     `yaml:"camera" toml:"camera"`
	Chessboard ChessboardConfig `yaml:"chessboard" toml:"chessboard"`
	Controls   map[string]int32 `yaml:"controls" toml:"controls"` // 開始時に全デバイスへ設定するコントロール
	Projector  ProjectorConfig  `yaml:"projector" toml:"projector"`
	Profile    ProfileConfig    `yaml:"profile" toml:"profile"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
}

// SessionConfig はセッションループの設定
type SessionConfig struct {
	ScanInterval   Duration `yaml:"scan_interval" toml:"scan_interval"`     // 投影パターンを進める間隔
	MinTick        Duration `yaml:"min_tick" toml:"min_tick"`               // ループ1反復の最短時間
	RenderInterval Duration `yaml:"render_interval" toml:"render_interval"` // 描画ティックの間隔
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Host    string `yaml:"host" toml:"host"` // リッスンするホスト
	Port    int    `yaml:"port" toml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`   // 読み込みタイムアウト
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 複数カメラ対応のための設定
	Devices []CameraDevice `yaml:"devices" toml:"devices"`

	// デフォルト設定
	DefaultFPS     int    `yaml:"default_fps" toml:"default_fps"`         // フレームレート (fps)
	DefaultWidth   int    `yaml:"default_width" toml:"default_width"`     // 画像幅
	DefaultHeight  int    `yaml:"default_height" toml:"default_height"`   // 画像高さ
	DefaultFormat  string `yaml:"default_format" toml:"default_format"`   // YUYV / MJPG / RGB3
	DefaultBuffers int    `yaml:"default_buffers" toml:"default_buffers"` // カーネルに要求するバッファ数

	// SettingsFile は終了時にデバイスごとのコントロール値を保存するファイル
	SettingsFile string `yaml:"settings_file" toml:"settings_file"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     string `yaml:"id" toml:"id"`         // カメラID
	Name   string `yaml:"name" toml:"name"`     // カメラ名
	Device string `yaml:"device" toml:"device"` // デバイスパス (例: /dev/video0)
	Input  *int   `yaml:"input" toml:"input"`   // V4L2入力番号（省略時は変更しない）

	// カメラ固有の設定（デフォルト値より優先）
	FPS     int    `yaml:"fps" toml:"fps"`
	Width   int    `yaml:"width" toml:"width"`
	Height  int    `yaml:"height" toml:"height"`
	Format  string `yaml:"format" toml:"format"`
	Buffers int    `yaml:"buffers" toml:"buffers"`
}

// ChessboardConfig は校正用チェスボードの設定
type ChessboardConfig struct {
	Width      int      `yaml:"width" toml:"width"`   // 内側コーナーの列数
	Height     int      `yaml:"height" toml:"height"` // 内側コーナーの行数
	SquareSize float64  `yaml:"square_size" toml:"square_size"`
	MaxImages  int      `yaml:"max_images" toml:"max_images"`
	Interval   Duration `yaml:"interval" toml:"interval"`
}

// ProjectorConfig は投影機の設定。Port が空なら実機には送らない。
type ProjectorConfig struct {
	Port     string `yaml:"port" toml:"port"`
	BaudRate int    `yaml:"baud" toml:"baud"`
	Width    int    `yaml:"width" toml:"width"`
	Height   int    `yaml:"height" toml:"height"`
	Step     int    `yaml:"step" toml:"step"`
}

// ProfileConfig は GUVCView プロファイルの設定
type ProfileConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Watch bool   `yaml:"watch" toml:"watch"` // 変更されたら再適用する
}

// ParseError は設定ファイルを解釈できなかったことを表す
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("設定ファイル %s を解釈できません: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Default は既定の設定を返す
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			ScanInterval:   Duration(200 * time.Millisecond),
			MinTick:        Duration(2 * time.Millisecond),
			RenderInterval: Duration(time.Second / 30),
		},
		Camera: CameraConfig{
			Devices:        []CameraDevice{},
			DefaultFPS:     15,
			DefaultWidth:   1280,
			DefaultHeight:  720,
			DefaultFormat:  "YUYV",
			DefaultBuffers: camera.DefaultBuffers,
			SettingsFile:   "devices.yaml",
		},
		Chessboard: ChessboardConfig{
			Width:      9,
			Height:     6,
			SquareSize: 25,
			MaxImages:  20,
			Interval:   Duration(time.Second),
		},
		Controls: map[string]int32{},
		Projector: ProjectorConfig{
			BaudRate: 115200,
			Width:    1024,
			Height:   768,
			Step:     8,
		},
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: 0, // MJPEG配信のためタイムアウト無効化
		},
	}
}

// Load は設定を読み込む
//
// path が空なら既定値を使う。拡張子で YAML と TOML を切り替え、
// 環境変数で上書きしてから検証する。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = fmt.Errorf("未対応の拡張子 %q", filepath.Ext(path))
	}
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	if v := os.Getenv("SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.ScanInterval = Duration(d)
		}
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	if c.Session.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("スキャン間隔は正の値が必要です: %s", c.Session.ScanInterval))
	}
	if c.Session.MinTick < 0 || c.Session.RenderInterval < 0 {
		errs = append(errs, errors.New("ループ間隔に負の値は指定できません"))
	}

	if _, err := camera.ParsePixelFormat(c.Camera.DefaultFormat); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.DefaultFPS <= 0 || c.Camera.DefaultWidth <= 0 || c.Camera.DefaultHeight <= 0 {
		errs = append(errs, errors.New("カメラの既定値は正の値が必要です"))
	}
	if !validBuffers(c.Camera.DefaultBuffers) {
		errs = append(errs, fmt.Errorf("無効なバッファ数: %d", c.Camera.DefaultBuffers))
	}

	ids := make(map[string]bool)
	paths := make(map[string]bool)
	for i, d := range c.Camera.Devices {
		if d.Device == "" {
			errs = append(errs, fmt.Errorf("camera.devices[%d]: デバイスパスが空です", i))
		} else if paths[d.Device] {
			errs = append(errs, fmt.Errorf("camera.devices[%d]: デバイス %s が重複しています", i, d.Device))
		}
		paths[d.Device] = true
		if d.ID != "" {
			if ids[d.ID] {
				errs = append(errs, fmt.Errorf("camera.devices[%d]: ID %s が重複しています", i, d.ID))
			}
			ids[d.ID] = true
		}
		if d.FPS < 0 || d.Width < 0 || d.Height < 0 {
			errs = append(errs, fmt.Errorf("camera.devices[%d]: 負の値は指定できません", i))
		}
		if d.Buffers != 0 && !validBuffers(d.Buffers) {
			errs = append(errs, fmt.Errorf("camera.devices[%d]: 無効なバッファ数: %d", i, d.Buffers))
		}
		if _, err := camera.ParsePixelFormat(d.Format); err != nil {
			errs = append(errs, fmt.Errorf("camera.devices[%d]: %w", i, err))
		}
	}

	for name := range c.Controls {
		if _, err := camera.ParseControl(name); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Chessboard.Width <= 0 || c.Chessboard.Height <= 0 || c.Chessboard.MaxImages <= 0 {
		errs = append(errs, errors.New("チェスボードの大きさと画像数は正の値が必要です"))
	}

	return errors.Join(errs...)
}

func validBuffers(n int) bool {
	return n >= 1 && n <= camera.MaxBuffers
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultSettings はカメラの既定値から撮影設定を作る
func (c *Config) DefaultSettings() camera.Settings {
	pf, _ := camera.ParsePixelFormat(c.Camera.DefaultFormat)
	return camera.Settings{
		Width:       c.Camera.DefaultWidth,
		Height:      c.Camera.DefaultHeight,
		FPS:         c.Camera.DefaultFPS,
		PixelFormat: pf,
		Buffers:     c.Camera.DefaultBuffers,
		Input:       -1,
	}
}

// DeviceSpecs は設定されたカメラを Manager に登録する形に変換する
func (c *Config) DeviceSpecs() []camera.DeviceSpec {
	specs := make([]camera.DeviceSpec, 0, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		s := c.DefaultSettings()
		if d.FPS > 0 {
			s.FPS = d.FPS
		}
		if d.Width > 0 {
			s.Width = d.Width
		}
		if d.Height > 0 {
			s.Height = d.Height
		}
		if d.Format != "" {
			s.PixelFormat, _ = camera.ParsePixelFormat(d.Format)
		}
		if d.Buffers > 0 {
			s.Buffers = d.Buffers
		}
		if d.Input != nil {
			s.Input = *d.Input
		}
		specs = append(specs, camera.DeviceSpec{ID: d.ID, Name: d.Name, Path: d.Device, Settings: s})
	}
	return specs
}

// ControlValue は開始時に設定するコントロール
type ControlValue struct {
	ID    camera.ControlID
	Value int32
}

// StartupControls は開始時に設定するコントロールを名前順に返す
func (c *Config) StartupControls() []ControlValue {
	names := make([]string, 0, len(c.Controls))
	for name := range c.Controls {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ControlValue, 0, len(names))
	for _, name := range names {
		id, err := camera.ParseControl(name)
		if err != nil {
			continue
		}
		out = append(out, ControlValue{ID: id, Value: c.Controls[name]})
	}
	return out
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
