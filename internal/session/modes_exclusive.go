package session

import (
	"fmt"
	"time"

	"scanrig/internal/monitoring"
)

// scanMode は新しいフレームセットごとに投影点を検出し、メッシュを生成し直す
type scanMode struct {
	finishFlag
	lastSeq   uint64
	order     []string
	points    map[string][]Point2
	generated int
}

func newScanMode() Mode {
	return &scanMode{points: make(map[string][]Point2)}
}

func (m *scanMode) Identity() Identity { return IdentityScan }

func (m *scanMode) Enter(ctx *Context) error {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(false)
	}
	return nil
}

func (m *scanMode) Advance(ctx *Context) {
	fs := ctx.Frames()
	if fs.Seq == 0 || fs.Seq == m.lastSeq {
		return
	}
	m.lastSeq = fs.Seq

	m.order = m.order[:0]
	for _, f := range fs.Frames {
		m.order = append(m.order, f.DeviceID)
		if ctx.Detector != nil {
			m.points[f.DeviceID] = ctx.Detector.Detect(f)
		}
	}

	if err := ctx.Mesh.Generate(fs); err != nil {
		monitoring.Logf("メッシュの生成に失敗しました: %v", err)
		return
	}
	m.generated++
	ctx.MeshUpdated()
}

func (m *scanMode) Render(ctx *Context, s Surface) {
	if ctx.ShowDetected() {
		for _, id := range m.order {
			s.DrawDetectedPoints(id, m.points[id])
		}
	}
	s.DrawStatus(fmt.Sprintf("スキャン中 (生成 %d 回)", m.generated))
}

// calibrateCameraMode は一定間隔でチェスボード画像を集め、揃ったらカメラごとの内部パラメータを求める
type calibrateCameraMode struct {
	finishFlag
	lastSeq uint64
	elapsed time.Duration
	order   []string
	views   map[string][][]Point2
	corners map[string][]Point2
	sizes   map[string][2]int
}

func newCalibrateCameraMode() Mode {
	return &calibrateCameraMode{
		views:   make(map[string][][]Point2),
		corners: make(map[string][]Point2),
		sizes:   make(map[string][2]int),
	}
}

func (m *calibrateCameraMode) Identity() Identity { return IdentityCalibrateCamera }

func (m *calibrateCameraMode) Enter(ctx *Context) error {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(true)
	}
	return nil
}

func (m *calibrateCameraMode) Exit(ctx *Context) {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(false)
	}
}

func (m *calibrateCameraMode) Advance(ctx *Context) {
	m.elapsed += ctx.DT()
	fs := ctx.Frames()
	if fs.Seq == 0 || fs.Seq == m.lastSeq || m.elapsed < ctx.Board.Interval {
		return
	}
	m.lastSeq = fs.Seq
	m.elapsed = 0

	maxImages := ctx.Board.MaxImages
	if maxImages <= 0 {
		maxImages = 1
	}

	m.order = m.order[:0]
	complete := len(fs.Frames) > 0
	for _, f := range fs.Frames {
		m.order = append(m.order, f.DeviceID)
		m.sizes[f.DeviceID] = [2]int{f.Width, f.Height}
		if len(m.views[f.DeviceID]) < maxImages {
			pts, ok := ctx.Calibrator.FindCorners(f, ctx.Board)
			m.corners[f.DeviceID] = pts
			if ok {
				m.views[f.DeviceID] = append(m.views[f.DeviceID], pts)
			}
		}
		if len(m.views[f.DeviceID]) < maxImages {
			complete = false
		}
	}
	if !complete {
		return
	}

	for _, id := range m.order {
		size := m.sizes[id]
		in, err := ctx.Calibrator.CalibrateIntrinsics(m.views[id], ctx.Board, size[0], size[1])
		if err != nil {
			monitoring.Logf("デバイス %s の内部パラメータを求められません: %v", id, err)
			continue
		}
		ctx.SetIntrinsics(id, in)
		monitoring.Logf("デバイス %s の校正が完了しました (RMS %.3f)", id, in.RMS)
	}
	m.finish()
}

func (m *calibrateCameraMode) Render(ctx *Context, s Surface) {
	maxImages := ctx.Board.MaxImages
	for _, id := range m.order {
		s.DrawDetectedPoints(id, m.corners[id])
		s.DrawStatus(fmt.Sprintf("カメラ校正 %s: %d/%d", id, len(m.views[id]), maxImages))
	}
}

// calibrateWorldMode は全カメラで同時にチェスボードを検出し、ワールド座標系での姿勢を求める
type calibrateWorldMode struct {
	finishFlag
	lastSeq uint64
	order   []string
	corners map[string][]Point2
}

func newCalibrateWorldMode() Mode {
	return &calibrateWorldMode{corners: make(map[string][]Point2)}
}

func (m *calibrateWorldMode) Identity() Identity { return IdentityCalibrateWorld }

func (m *calibrateWorldMode) Enter(ctx *Context) error {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(true)
	}
	return nil
}

func (m *calibrateWorldMode) Exit(ctx *Context) {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(false)
	}
}

func (m *calibrateWorldMode) Advance(ctx *Context) {
	fs := ctx.Frames()
	if fs.Seq == 0 || fs.Seq == m.lastSeq {
		return
	}
	m.lastSeq = fs.Seq

	m.order = m.order[:0]
	found := len(fs.Frames) > 0
	for _, f := range fs.Frames {
		m.order = append(m.order, f.DeviceID)
		pts, ok := ctx.Calibrator.FindCorners(f, ctx.Board)
		m.corners[f.DeviceID] = pts
		if !ok {
			found = false
		}
	}
	if !found {
		return
	}

	for _, id := range m.order {
		in, ok := ctx.Intrinsics(id)
		if !ok {
			monitoring.Logf("デバイス %s は内部パラメータが未校正のため姿勢を求めません", id)
			continue
		}
		ex, err := ctx.Calibrator.CalibrateExtrinsics(m.corners[id], ctx.Board, in)
		if err != nil {
			monitoring.Logf("デバイス %s の姿勢を求められません: %v", id, err)
			continue
		}
		ctx.SetExtrinsics(id, ex)
	}
	m.finish()
}

func (m *calibrateWorldMode) Render(_ *Context, s Surface) {
	for _, id := range m.order {
		s.DrawDetectedPoints(id, m.corners[id])
	}
	s.DrawStatus("ワールド座標の校正中")
}

// textureMode は照明を点けた状態の最初のフレームセットでメッシュに色を付ける
type textureMode struct {
	finishFlag
	startSeq uint64
}

func newTextureMode() Mode {
	return &textureMode{}
}

func (m *textureMode) Identity() Identity { return IdentityTexture }

func (m *textureMode) Enter(ctx *Context) error {
	m.startSeq = ctx.Frames().Seq
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(true)
	}
	return nil
}

func (m *textureMode) Exit(ctx *Context) {
	if ctx.Projector != nil {
		ctx.Projector.SetFlash(false)
	}
}

func (m *textureMode) Advance(ctx *Context) {
	fs := ctx.Frames()
	// 照明を点ける前に撮られたフレームは使わない
	if fs.Seq <= m.startSeq+1 {
		return
	}
	if err := ctx.Mesh.Texture(fs); err != nil {
		monitoring.Logf("テクスチャの取得に失敗しました: %v", err)
	} else {
		ctx.MeshUpdated()
	}
	m.finish()
}

func (m *textureMode) Render(_ *Context, s Surface) {
	s.DrawStatus("テクスチャ取得中")
}
