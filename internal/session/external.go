package session

import (
	"context"
	"time"

	"scanrig/internal/camera"
)

// DeviceSource はセッションが使うデバイス群の操作
type DeviceSource interface {
	StartAll() error
	PullFrames(ctx context.Context) error
	Frames() []camera.Frame
	SetControl(deviceID string, id camera.ControlID, value int32) error
	BroadcastControl(id camera.ControlID, value int32) error
	Snapshot() []camera.DeviceSnapshot
	Settings() []camera.DeviceSettings
	Shutdown() error
}

// Projector はパターン投影機。どちらの操作もブロックしない前提
type Projector interface {
	// Advance は次のパターン位置へ進めて再描画する
	Advance()
	// SetFlash は全面照明を切り替える
	SetFlash(on bool)
}

// MeshBuilder はフレーム群からメッシュを生成・保持する
type MeshBuilder interface {
	Generate(frames *FrameSet) error
	Texture(frames *FrameSet) error
	Clear()
	SaveToFile(path string) error
	// LoadFile は拡張子に応じて保存形式やSTLを読み込む
	LoadFile(path string) error
}

// Point2 は画像上の点
type Point2 struct {
	X, Y float64
}

// Chessboard は校正用チェスボードの指定
type Chessboard struct {
	Cols       int           // 内側コーナーの列数
	Rows       int           // 内側コーナーの行数
	SquareSize float64       // マス目の一辺 (mm)
	MaxImages  int           // カメラごとに集める画像数
	Interval   time.Duration // 画像を集める間隔
}

// Intrinsics はカメラ内部パラメータ
type Intrinsics struct {
	Matrix     [9]float64
	Distortion []float64
	RMS        float64
}

// Extrinsics はワールド座標系に対するカメラの姿勢
type Extrinsics struct {
	Rotation    [9]float64
	Translation [3]float64
}

// Calibrator はチェスボード検出と校正計算を行う純粋関数群
type Calibrator interface {
	FindCorners(frame camera.Frame, board Chessboard) ([]Point2, bool)
	CalibrateIntrinsics(views [][]Point2, board Chessboard, width, height int) (Intrinsics, error)
	CalibrateExtrinsics(corners []Point2, board Chessboard, in Intrinsics) (Extrinsics, error)
}

// Detector はフレームから投影パターンの点を検出する
type Detector interface {
	Detect(frame camera.Frame) []Point2
}

// ViewState は描画用のカメラ姿勢
type ViewState struct {
	Eye    [3]float64
	Target [3]float64
	Up     [3]float64
}

// Surface はモードの描画先。セッションは画素を直接描かない。
type Surface interface {
	DrawCameraGrid(frames []camera.Frame)
	DrawDetectedPoints(deviceID string, points []Point2)
	DrawMesh(version uint64, filled bool)
	DrawToolView(view ViewState)
	DrawStatus(text string)
}

// SettingsStore はデバイスごとのコントロール値を永続化する
type SettingsStore interface {
	SaveDeviceSettings(settings []camera.DeviceSettings) error
}
