package session

import "sync"

// OverlaySet は排他モードと並行して動く重ね表示モードの集合
//
// 各種類は高々一つ。Advance / Render は追加順に呼ばれる。
type OverlaySet struct {
	mu    sync.Mutex
	slots []*slot
}

// NewOverlaySet は空の集合を作成する
func NewOverlaySet() *OverlaySet {
	return &OverlaySet{}
}

// Toggle は id のモードがなければ追加し、あれば取り除く。
// 戻り値は操作後に id のモードが含まれるかどうか。
func (o *OverlaySet) Toggle(ctx *Context, id Identity, newMode Factory) (bool, error) {
	o.mu.Lock()
	for i, sl := range o.slots {
		if sl.mode.Identity() != id {
			continue
		}
		o.slots = append(o.slots[:i:i], o.slots[i+1:]...)
		o.mu.Unlock()
		sl.exit(ctx)
		return false, nil
	}
	defer o.mu.Unlock()

	sl, err := enterSlot(ctx, newMode())
	if err != nil {
		return false, err
	}
	o.slots = append(o.slots, sl)
	return true, nil
}

// Has は id のモードが含まれるかを返す
func (o *OverlaySet) Has(id Identity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, sl := range o.slots {
		if sl.mode.Identity() == id {
			return true
		}
	}
	return false
}

// Identities は追加順の種類一覧を返す
func (o *OverlaySet) Identities() []Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]Identity, 0, len(o.slots))
	for _, sl := range o.slots {
		ids = append(ids, sl.mode.Identity())
	}
	return ids
}

func (o *OverlaySet) snapshot() []*slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*slot(nil), o.slots...)
}

// TickAll は追加順にすべてのモードの Advance を呼ぶ
func (o *OverlaySet) TickAll(ctx *Context) {
	for _, sl := range o.snapshot() {
		sl.advance(ctx)
	}
}

// RenderAll は追加順にすべてのモードを描画する
func (o *OverlaySet) RenderAll(ctx *Context, surface Surface) {
	for _, sl := range o.snapshot() {
		sl.render(ctx, surface)
	}
}

// Clear はすべてのモードを取り除く
func (o *OverlaySet) Clear(ctx *Context) {
	o.mu.Lock()
	slots := o.slots
	o.slots = nil
	o.mu.Unlock()
	exitAll(ctx, slots)
}
