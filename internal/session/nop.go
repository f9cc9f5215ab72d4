package session

import (
	"scanrig/internal/camera"
	"scanrig/internal/monitoring"
)

// NopSurface は何も描画しないSurface
type NopSurface struct{}

func (NopSurface) DrawCameraGrid([]camera.Frame) {}
func (NopSurface) DrawDetectedPoints(string, []Point2) {}
func (NopSurface) DrawMesh(uint64, bool) {}
func (NopSurface) DrawToolView(ViewState) {}
func (NopSurface) DrawStatus(string) {}

// NopMeshBuilder は再構成を行わないMeshBuilder
type NopMeshBuilder struct{}

func (NopMeshBuilder) Generate(*FrameSet) error { return nil }
func (NopMeshBuilder) Texture(*FrameSet) error { return nil }
func (NopMeshBuilder) Clear() {}

func (NopMeshBuilder) SaveToFile(path string) error {
	monitoring.Logf("メッシュ生成器が構成されていないため %s は保存しません", path)
	return nil
}

func (NopMeshBuilder) LoadFile(path string) error {
	monitoring.Logf("メッシュ生成器が構成されていないため %s は読み込みません", path)
	return nil
}

// NopCalibrator はチェスボードを検出しないCalibrator
type NopCalibrator struct{}

func (NopCalibrator) FindCorners(camera.Frame, Chessboard) ([]Point2, bool) { return nil, false }

func (NopCalibrator) CalibrateIntrinsics([][]Point2, Chessboard, int, int) (Intrinsics, error) {
	return Intrinsics{}, nil
}

func (NopCalibrator) CalibrateExtrinsics([]Point2, Chessboard, Intrinsics) (Extrinsics, error) {
	return Extrinsics{}, nil
}
