package session

// showCamerasMode は最新のフレームを並べて表示する
type showCamerasMode struct{ finishFlag }

func newShowCamerasMode() Mode { return &showCamerasMode{} }

func (m *showCamerasMode) Identity() Identity { return IdentityShowCameras }
func (m *showCamerasMode) Advance(_ *Context) {}

func (m *showCamerasMode) Render(ctx *Context, s Surface) {
	s.DrawCameraGrid(ctx.Frames().Frames)
}

// toolViewMode は視点カメラの姿勢を表示する
type toolViewMode struct{ finishFlag }

func newToolViewMode() Mode { return &toolViewMode{} }

func (m *toolViewMode) Identity() Identity { return IdentityToolView }
func (m *toolViewMode) Advance(_ *Context) {}

func (m *toolViewMode) Render(ctx *Context, s Surface) {
	s.DrawToolView(ctx.View.State())
}

// drawMeshMode はメッシュを塗りつぶしで表示する。更新は Advance で拾う。
type drawMeshMode struct {
	finishFlag
	version uint64
	updates int
}

func newDrawMeshMode() Mode { return &drawMeshMode{} }

func (m *drawMeshMode) Identity() Identity { return IdentityDrawMesh }

func (m *drawMeshMode) Advance(ctx *Context) {
	if v := ctx.MeshVersion(); v != m.version {
		m.version = v
		m.updates++
	}
}

func (m *drawMeshMode) Render(_ *Context, s Surface) {
	s.DrawMesh(m.version, true)
}
