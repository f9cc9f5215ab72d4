// Package projector は構造化光の投影機を制御する
//
// 投影パターンは矩形領域を走査する1点で、Advance のたびに次の位置へ進む。
// 実機にはシリアル回線で位置と照明の指示を送る。
package projector

import "sync"

// Pattern は Width x Height の領域を Step 間隔で走査する点の位置
//
// 行の終わりで次の行へ、領域の終わりで先頭へ戻る。
type Pattern struct {
	mu     sync.Mutex
	width  int
	height int
	step   int
	x, y   int
	pages  int
}

// NewPattern は新しいPatternを作成する。0以下の値は1として扱う。
func NewPattern(width, height, step int) *Pattern {
	return &Pattern{
		width:  max(width, 1),
		height: max(height, 1),
		step:   max(step, 1),
	}
}

// Next は点を次の位置へ進め、その位置を返す
func (p *Pattern) Next() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x += p.step
	if p.x >= p.width {
		p.x = 0
		p.y += p.step
		if p.y >= p.height {
			p.y = 0
			p.pages++
		}
	}
	return p.x, p.y
}

// Position は現在の位置を返す
func (p *Pattern) Position() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}

// Pages は領域を一周した回数を返す
func (p *Pattern) Pages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages
}

// Reset は先頭の位置へ戻す
func (p *Pattern) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x, p.y, p.pages = 0, 0, 0
}
