package camera

import "fmt"

// BufferState はmmapバッファの所有状態
type BufferState int

const (
	BufferFree   BufferState = iota // どちらにも属さない
	BufferQueued                    // カーネルに投入済み
	BufferFilled                    // 取り出して変換中
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferQueued:
		return "queued"
	case BufferFilled:
		return "filled"
	}
	return fmt.Sprintf("BufferState(%d)", int(s))
}

// bufferPool はmmapしたバッファとその状態をインデックスで管理する
//
// 各インデックスは常にちょうど一つの状態にある。状態遷移はこのファイルの
// メソッドだけが行う。排他は呼び出し側（Device.captureMu）が保証する。
type bufferPool struct {
	mems   [][]byte
	states []BufferState
}

func newBufferPool(mems [][]byte) *bufferPool {
	return &bufferPool{
		mems:   mems,
		states: make([]BufferState, len(mems)),
	}
}

func (p *bufferPool) len() int {
	return len(p.mems)
}

func (p *bufferPool) mem(index int) []byte {
	return p.mems[index]
}

func (p *bufferPool) transition(index int, to BufferState, from ...BufferState) error {
	if index < 0 || index >= len(p.states) {
		return fmt.Errorf("範囲外のバッファインデックス: %d", index)
	}
	cur := p.states[index]
	for _, f := range from {
		if cur == f {
			p.states[index] = to
			return nil
		}
	}
	return fmt.Errorf("バッファ %d は %s のため %s にできない", index, cur, to)
}

// markQueued は投入の成功を記録する
func (p *bufferPool) markQueued(index int) error {
	return p.transition(index, BufferQueued, BufferFree, BufferFilled)
}

// markFilled は取り出しを記録する
func (p *bufferPool) markFilled(index int) error {
	return p.transition(index, BufferFilled, BufferQueued)
}

// markFree は再投入できなかったバッファを手元に戻す
func (p *bufferPool) markFree(index int) error {
	return p.transition(index, BufferFree, BufferFilled)
}

// resetAll はSTREAMOFF後にすべてのバッファを未使用に戻す
func (p *bufferPool) resetAll() {
	for i := range p.states {
		p.states[i] = BufferFree
	}
}

func (p *bufferPool) count(s BufferState) int {
	n := 0
	for _, st := range p.states {
		if st == s {
			n++
		}
	}
	return n
}

func (p *bufferPool) snapshot() []BufferState {
	out := make([]BufferState, len(p.states))
	copy(out, p.states)
	return out
}
