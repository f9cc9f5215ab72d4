package projector

import "sync/atomic"

// Discard は指示をどこにも送らない投影機。位置と照明の状態だけを追う。
type Discard struct {
	pattern  *Pattern
	flash    atomic.Bool
	advances atomic.Uint64
}

// NewDiscard は新しいDiscardを作成する
func NewDiscard(width, height, step int) *Discard {
	return &Discard{pattern: NewPattern(width, height, step)}
}

func (d *Discard) Advance() {
	d.pattern.Next()
	d.advances.Add(1)
}

func (d *Discard) SetFlash(on bool) { d.flash.Store(on) }

// Flash は照明の状態を返す
func (d *Discard) Flash() bool { return d.flash.Load() }

// Position は現在の点の位置を返す
func (d *Discard) Position() (int, int) { return d.pattern.Position() }

// Advances は Advance が呼ばれた回数を返す
func (d *Discard) Advances() uint64 { return d.advances.Load() }
