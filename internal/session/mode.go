package session

import (
	"sync"
	"sync/atomic"
)

// Identity はモードの種類
type Identity string

const (
	IdentityScan            Identity = "scan"
	IdentityCalibrateCamera Identity = "calibrate_cameras"
	IdentityCalibrateWorld  Identity = "calibrate_world"
	IdentityTexture         Identity = "texture"
	IdentityShowCameras     Identity = "show_cameras"
	IdentityToolView        Identity = "tool_view"
	IdentityDrawMesh        Identity = "draw_filled_mesh"
)

// Mode はセッションの振る舞いの単位
//
// Advance はループの反復ごと、Render は描画ティックごとに呼ばれる。
// 同じモードの Advance と Render が同時に呼ばれることはない。
type Mode interface {
	Identity() Identity
	Advance(ctx *Context)
	Render(ctx *Context, s Surface)
	// Finished が true を返したモードは次の Advance の前に取り除かれる
	Finished() bool
}

// Enterer はコンテナへの追加時に資源を確保するモード
type Enterer interface {
	Enter(ctx *Context) error
}

// Exiter はコンテナからの削除時に資源を解放するモード
type Exiter interface {
	Exit(ctx *Context)
}

// Factory はモードを新しく生成する
type Factory func() Mode

// finishFlag はモードに埋め込む完了フラグ
type finishFlag struct {
	done atomic.Bool
}

func (f *finishFlag) finish()        { f.done.Store(true) }
func (f *finishFlag) Finished() bool { return f.done.Load() }

// slot はコンテナ内の1モード。mu で Advance / Render / Exit を直列化する。
type slot struct {
	mode   Mode
	mu     sync.Mutex
	exited bool
}

func enterSlot(ctx *Context, m Mode) (*slot, error) {
	if e, ok := m.(Enterer); ok {
		if err := e.Enter(ctx); err != nil {
			return nil, err
		}
	}
	return &slot{mode: m}, nil
}

func (s *slot) advance(ctx *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		s.mode.Advance(ctx)
	}
}

func (s *slot) render(ctx *Context, surface Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		s.mode.Render(ctx, surface)
	}
}

// exit は一度だけ Exit を呼ぶ
func (s *slot) exit(ctx *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return
	}
	s.exited = true
	if x, ok := s.mode.(Exiter); ok {
		x.Exit(ctx)
	}
}

func exitAll(ctx *Context, slots []*slot) {
	for _, s := range slots {
		s.exit(ctx)
	}
}
