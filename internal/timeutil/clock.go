// Package timeutil は時刻操作をテスト可能にするための抽象化を提供する
package timeutil

import (
	"sync"
	"time"
)

// Clock は時刻の取得と待機を抽象化する
type Clock interface {
	// Now は現在時刻を返す
	Now() time.Time

	// Since は t からの経過時間を返す
	Since(t time.Time) time.Duration

	// Sleep は指定時間だけ待機する
	Sleep(d time.Duration)
}

// RealClock は標準の time パッケージによる Clock 実装
type RealClock struct{}

// Now は現在時刻を返す
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since は t からの経過時間を返す
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep は少なくとも d だけ現在のゴルーチンを停止する
func (RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// MockClock はテスト用に手動で進める時計
//
// Sleep は即座に戻るが、待機時間を記録して時計を同じだけ進める。
// これにより撮影のペース配分をリアルタイムを待たずに検証できる。
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewMockClock は指定時刻に設定された MockClock を作成する
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now はモック時刻を返す
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set はモック時刻を設定する
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance はモック時刻を d だけ進める
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since は t からの経過時間を返す
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep は待機時間を記録し、時計を進めてすぐに戻る
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

// Sleeps は記録された待機時間をすべて返す
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}
