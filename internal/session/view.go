package session

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	defaultViewDistance = 500.0
	minViewDistance     = 10.0
	// rotateSpeed はポインタ1ピクセル・1秒あたりの回転角 (rad)
	rotateSpeed = 0.5
	panSpeed    = 1.0
	zoomStep    = 0.1
)

// ViewCamera は注視点の周りを回る視点カメラ
type ViewCamera struct {
	mu     sync.RWMutex
	eye    r3.Vec
	target r3.Vec
	up     r3.Vec
}

// NewViewCamera は原点を正面から見る視点カメラを作成する
func NewViewCamera() *ViewCamera {
	return &ViewCamera{
		eye:    r3.Vec{Z: defaultViewDistance},
		target: r3.Vec{},
		up:     r3.Vec{Y: 1},
	}
}

// Rotate はポインタの移動量を角速度として注視点の周りを回転する
func (v *ViewCamera) Rotate(dx, dy int, dt time.Duration) {
	if dt <= 0 || (dx == 0 && dy == 0) {
		return
	}
	secs := dt.Seconds()
	v.mu.Lock()
	defer v.mu.Unlock()

	offset := r3.Sub(v.eye, v.target)
	yaw := r3.NewRotation(-float64(dx)*rotateSpeed*secs, v.up)
	offset = yaw.Rotate(offset)

	right := r3.Cross(offset, v.up)
	if r3.Norm(right) > 0 {
		pitch := r3.NewRotation(-float64(dy)*rotateSpeed*secs, r3.Unit(right))
		rotated := pitch.Rotate(offset)
		// 真上・真下を越えないようにする
		if math.Abs(r3.Dot(r3.Unit(rotated), v.up)) < 0.99 {
			offset = rotated
		}
	}
	v.eye = r3.Add(v.target, offset)
}

// Pan は注視点と視点を画面上で平行移動する
func (v *ViewCamera) Pan(dx, dy int) {
	if dx == 0 && dy == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	forward := r3.Unit(r3.Sub(v.target, v.eye))
	right := r3.Unit(r3.Cross(forward, v.up))
	up := r3.Cross(right, forward)
	shift := r3.Add(r3.Scale(-float64(dx)*panSpeed, right), r3.Scale(float64(dy)*panSpeed, up))
	v.eye = r3.Add(v.eye, shift)
	v.target = r3.Add(v.target, shift)
}

// Zoom はホイール量に応じて注視点との距離を変える。正で近づく。
func (v *ViewCamera) Zoom(delta float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	offset := r3.Sub(v.eye, v.target)
	dist := r3.Norm(offset) * math.Pow(1-zoomStep, delta)
	if dist < minViewDistance {
		dist = minViewDistance
	}
	v.eye = r3.Add(v.target, r3.Scale(dist, r3.Unit(offset)))
}

// Distance は注視点との距離を返す
func (v *ViewCamera) Distance() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return r3.Norm(r3.Sub(v.eye, v.target))
}

// State は描画用の姿勢を返す
func (v *ViewCamera) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return ViewState{
		Eye:    [3]float64{v.eye.X, v.eye.Y, v.eye.Z},
		Target: [3]float64{v.target.X, v.target.Y, v.target.Z},
		Up:     [3]float64{v.up.X, v.up.Y, v.up.Z},
	}
}
