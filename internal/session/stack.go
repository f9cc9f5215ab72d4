package session

import "sync"

// ExclusiveStack は排他モードのスタック
//
// トグル操作は「先頭を取り除けたら終わり、取り除けなければ新しく積む」ので、
// 有効な排他モードは常に高々一つになる。mu はメンバー構成だけを保護し、
// Advance / Render の実行中は保持しない。
type ExclusiveStack struct {
	mu    sync.Mutex
	slots []*slot
}

// NewExclusiveStack は空のスタックを作成する
func NewExclusiveStack() *ExclusiveStack {
	return &ExclusiveStack{}
}

// Push はモードを先頭に積む。先頭が同じ種類なら何もしない。
func (s *ExclusiveStack) Push(ctx *Context, m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushLocked(ctx, m)
}

func (s *ExclusiveStack) pushLocked(ctx *Context, m Mode) error {
	if n := len(s.slots); n > 0 && s.slots[n-1].mode.Identity() == m.Identity() {
		return nil
	}
	sl, err := enterSlot(ctx, m)
	if err != nil {
		return err
	}
	s.slots = append(s.slots, sl)
	return nil
}

// Remove は先頭のモードを取り除き、取り除いたかどうかを返す。空なら何もしない。
func (s *ExclusiveStack) Remove(ctx *Context) bool {
	s.mu.Lock()
	top := s.popLocked()
	s.mu.Unlock()
	if top == nil {
		return false
	}
	top.exit(ctx)
	return true
}

func (s *ExclusiveStack) popLocked() *slot {
	n := len(s.slots)
	if n == 0 {
		return nil
	}
	top := s.slots[n-1]
	s.slots[n-1] = nil
	s.slots = s.slots[:n-1]
	return top
}

// Toggle は先頭を取り除くか、取り除けなければ新しいモードを積む。
// 戻り値は操作後に id のモードが先頭にあるかどうか。
func (s *ExclusiveStack) Toggle(ctx *Context, id Identity, newMode Factory) (bool, error) {
	s.mu.Lock()
	if top := s.popLocked(); top != nil {
		s.mu.Unlock()
		top.exit(ctx)
		return false, nil
	}
	defer s.mu.Unlock()
	m := newMode()
	if err := s.pushLocked(ctx, m); err != nil {
		return false, err
	}
	return m.Identity() == id, nil
}

// Current は先頭のモードの種類を返す
func (s *ExclusiveStack) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.slots); n > 0 {
		return s.slots[n-1].mode.Identity(), true
	}
	return "", false
}

// Len はスタックの深さを返す
func (s *ExclusiveStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Tick は完了した先頭を取り除いてから、残った先頭の Advance を呼ぶ
func (s *ExclusiveStack) Tick(ctx *Context) {
	s.mu.Lock()
	var finished []*slot
	for n := len(s.slots); n > 0 && s.slots[n-1].mode.Finished(); n = len(s.slots) {
		finished = append(finished, s.popLocked())
	}
	var top *slot
	if n := len(s.slots); n > 0 {
		top = s.slots[n-1]
	}
	s.mu.Unlock()

	exitAll(ctx, finished)
	if top != nil {
		top.advance(ctx)
	}
}

// Render は先頭のモードを描画する
func (s *ExclusiveStack) Render(ctx *Context, surface Surface) {
	s.mu.Lock()
	var top *slot
	if n := len(s.slots); n > 0 {
		top = s.slots[n-1]
	}
	s.mu.Unlock()
	if top != nil {
		top.render(ctx, surface)
	}
}

// Clear はすべてのモードを取り除く
func (s *ExclusiveStack) Clear(ctx *Context) {
	s.mu.Lock()
	slots := s.slots
	s.slots = nil
	s.mu.Unlock()
	for i := len(slots) - 1; i >= 0; i-- {
		slots[i].exit(ctx)
	}
}
