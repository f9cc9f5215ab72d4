package session

import (
	"sync"
	"sync/atomic"
	"time"

	"scanrig/internal/timeutil"
)

// LoopState はセッションループの状態
type LoopState string

const (
	LoopIdle    LoopState = "idle" // 開始前
	LoopRunning LoopState = "running"
	LoopPaused  LoopState = "paused"
	LoopStopped LoopState = "stopped" // 終端
)

// Loop はモードを進め続けるバックグラウンドループ
//
// 1回の反復で経過時間の計測、視点の回転、排他モード、重ね表示モード、
// スキャンタイマーの順に処理する。停止は反復の境目でのみ行われる。
type Loop struct {
	ctx      *Context
	stack    *ExclusiveStack
	overlays *OverlaySet
	clock    timeutil.Clock
	interval time.Duration
	minTick  time.Duration

	state  atomic.Value // LoopState
	resync atomic.Bool
	last   time.Time // ループのゴルーチンだけが触る
	ticks  atomic.Uint64

	mu      sync.Mutex
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewLoop は新しいLoopを作成する
func NewLoop(ctx *Context, stack *ExclusiveStack, overlays *OverlaySet, clock timeutil.Clock, scanInterval, minTick time.Duration) *Loop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &Loop{
		ctx:      ctx,
		stack:    stack,
		overlays: overlays,
		clock:    clock,
		interval: scanInterval,
		minTick:  minTick,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	l.state.Store(LoopIdle)
	return l
}

// State は現在の状態を返す
func (l *Loop) State() LoopState {
	return l.state.Load().(LoopState)
}

// Ticks はこれまでの反復回数を返す
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Start はループをゴルーチンで開始する。二度目以降は何もしない。
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.State() == LoopStopped {
		return
	}
	l.started = true
	l.state.Store(LoopRunning)
	l.wg.Add(1)
	go l.run()
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if l.State() == LoopPaused {
			select {
			case <-l.stopCh:
				return
			case <-l.wake:
			}
			continue
		}

		start := l.clock.Now()
		l.Step()
		if l.minTick > 0 {
			if remaining := l.minTick - l.clock.Since(start); remaining > 0 {
				l.clock.Sleep(remaining)
			}
		}
	}
}

// Step はループの1反復を実行する
func (l *Loop) Step() {
	now := l.clock.Now()
	if l.last.IsZero() || l.resync.Swap(false) {
		l.last = now
	}
	dt := now.Sub(l.last)
	l.last = now
	l.ctx.setDT(dt)

	if dt > 0 {
		p := l.ctx.Pointer()
		if p.Left && !l.ctx.Selection() {
			l.ctx.View.Rotate(p.DX, p.DY, dt)
		}
		if p.Middle {
			l.ctx.View.Pan(p.DX, p.DY)
		}
	}

	l.stack.Tick(l.ctx)
	l.overlays.TickAll(l.ctx)

	for n := l.ctx.accumulateScan(dt, l.interval); n > 0; n-- {
		l.ctx.advanceProjector()
	}
	l.ticks.Add(1)
}

// TogglePause は実行中と一時停止を切り替え、切り替え後の状態を返す
func (l *Loop) TogglePause() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.State() {
	case LoopRunning:
		l.state.Store(LoopPaused)
	case LoopPaused:
		// 停止中の時間を経過時間に含めない
		l.resync.Store(true)
		l.state.Store(LoopRunning)
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	return l.State()
}

// Stop は現在の反復の終了を待ってループを止める。何度呼んでもよい。
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.State() == LoopStopped {
		l.mu.Unlock()
		return
	}
	l.state.Store(LoopStopped)
	close(l.stopCh)
	l.mu.Unlock()
	l.wg.Wait()
}
