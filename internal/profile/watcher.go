package profile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scanrig/internal/monitoring"
)

// DefaultSettle はファイル変更から再適用までの待ち時間
const DefaultSettle = 200 * time.Millisecond

// Watcher はプロファイルファイルの変更を監視して再適用する
//
// エディタが置き換え保存することがあるので、ファイルそのものではなく
// 置かれたディレクトリを監視し、名前で絞り込む。
type Watcher struct {
	path   string
	target Target
	settle time.Duration

	fsw       *fsnotify.Watcher
	mu        sync.Mutex
	applied   int
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher はプロファイルの監視を開始する
func NewWatcher(path string, target Target, settle time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		path:   abs,
		target: target,
		settle: settle,
		fsw:    fsw,
		done:   make(chan struct{}),
	}, nil
}

// Run は ctx が終わるか Close されるまで変更を処理する
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// 連続した書き込みはまとめて1回だけ適用する
			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				timer.Reset(w.settle)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			monitoring.Logf("プロファイルの監視でエラーが発生しました: %v", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		monitoring.Logf("プロファイルを再読み込みできません: %v", err)
		return
	}
	if err := p.Apply(w.target); err != nil {
		monitoring.Logf("プロファイルの一部を適用できません: %v", err)
	}
	w.mu.Lock()
	w.applied++
	w.mu.Unlock()
}

// Applied は再適用した回数を返す
func (w *Watcher) Applied() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applied
}

// Close は監視を終了する
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
