package session

import (
	"context"
	"sync"
	"time"

	"scanrig/internal/monitoring"
	"scanrig/internal/timeutil"
)

// Presenter は外部の再描画トリガーから呼ばれる描画ティック
//
// ポインタの取り込み、全デバイスからのフレーム取得、排他モードと
// 重ね表示モードの描画をこの順に行う。
type Presenter struct {
	ctx      *Context
	stack    *ExclusiveStack
	overlays *OverlaySet
	clock    timeutil.Clock

	mu         sync.Mutex
	frames     int
	windowFrom time.Time
	fps        float64
}

// NewPresenter は新しいPresenterを作成する
func NewPresenter(ctx *Context, stack *ExclusiveStack, overlays *OverlaySet, clock timeutil.Clock) *Presenter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Presenter{ctx: ctx, stack: stack, overlays: overlays, clock: clock}
}

// Tick は1回分の描画を行う。デバイスの撮影エラーは記録して描画を続ける。
func (p *Presenter) Tick(c context.Context, surface Surface, sample PointerSample) error {
	p.ctx.samplePointer(sample)

	err := p.ctx.Devices.PullFrames(c)
	if err != nil {
		monitoring.Logf("フレームの取得でエラーが発生しました: %v", err)
	}
	now := p.clock.Now()
	p.ctx.publishFrames(p.ctx.Devices.Frames(), now)

	p.stack.Render(p.ctx, surface)
	p.overlays.RenderAll(p.ctx, surface)

	p.countFrame(now)
	return err
}

// countFrame は1秒ごとに描画レートを更新する
func (p *Presenter) countFrame(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.windowFrom.IsZero() {
		p.windowFrom = now
	}
	p.frames++
	if elapsed := now.Sub(p.windowFrom); elapsed >= time.Second {
		p.fps = float64(p.frames) / elapsed.Seconds()
		p.frames = 0
		p.windowFrom = now
	}
}

// FPS は直近の描画レートを返す
func (p *Presenter) FPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps
}
