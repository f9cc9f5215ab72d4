package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanrig/internal/timeutil"
)

func newTestPresenter(devices *fakeDevices) (*Presenter, *Context, *timeutil.MockClock) {
	ctx := newTestContext(devices)
	clock := timeutil.NewMockClock(epoch)
	return NewPresenter(ctx, NewExclusiveStack(), NewOverlaySet(), clock), ctx, clock
}

func TestPresenter_PointerDelta(t *testing.T) {
	p, ctx, _ := newTestPresenter(newFakeDevices())
	surface := &recordingSurface{}

	require.NoError(t, p.Tick(context.Background(), surface, PointerSample{X: 10, Y: 10, Inside: true}))
	assert.Equal(t, 0, ctx.Pointer().DX)

	require.NoError(t, p.Tick(context.Background(), surface, PointerSample{X: 15, Y: 7, Inside: true, Left: true}))
	ptr := ctx.Pointer()
	assert.Equal(t, 5, ptr.DX)
	assert.Equal(t, -3, ptr.DY)
	assert.True(t, ptr.Left)

	// 描画領域の外では移動量を0にして位置を保つ
	require.NoError(t, p.Tick(context.Background(), surface, PointerSample{X: 900, Y: 900}))
	ptr = ctx.Pointer()
	assert.Equal(t, 0, ptr.DX)
	assert.Equal(t, 15, ptr.X)

	require.NoError(t, p.Tick(context.Background(), surface, PointerSample{X: 16, Y: 7, Inside: true}))
	assert.Equal(t, 1, ctx.Pointer().DX)
}

func TestPresenter_PublishesFrames(t *testing.T) {
	devices := newFakeDevices("cam0", "cam1")
	p, ctx, clock := newTestPresenter(devices)

	assert.Equal(t, uint64(0), ctx.Frames().Seq)
	clock.Advance(time.Second)
	require.NoError(t, p.Tick(context.Background(), NopSurface{}, PointerSample{}))

	fs := ctx.Frames()
	assert.Equal(t, uint64(1), fs.Seq)
	assert.Equal(t, epoch.Add(time.Second), fs.Time)
	require.Len(t, fs.Frames, 2)
	assert.Equal(t, "cam0", fs.Frames[0].DeviceID)
	assert.Equal(t, "cam1", fs.Frames[1].DeviceID)

	// 公開済みのセットは次の取得で書き換わらない
	require.NoError(t, p.Tick(context.Background(), NopSurface{}, PointerSample{}))
	assert.Equal(t, byte(1), fs.Frames[0].Data[0])
	assert.Equal(t, byte(2), ctx.Frames().Frames[0].Data[0])
	assert.Equal(t, uint64(2), ctx.Frames().Seq)
}

func TestPresenter_RenderOrder(t *testing.T) {
	p, ctx, _ := newTestPresenter(newFakeDevices("cam0"))
	require.NoError(t, p.stack.Push(ctx, newTextureMode()))
	_, err := p.overlays.Toggle(ctx, IdentityShowCameras, newShowCamerasMode)
	require.NoError(t, err)
	_, err = p.overlays.Toggle(ctx, IdentityToolView, newToolViewMode)
	require.NoError(t, err)

	surface := &recordingSurface{}
	require.NoError(t, p.Tick(context.Background(), surface, PointerSample{}))
	assert.Equal(t, []string{"status", "grid", "tool"}, surface.Calls())
	require.Len(t, surface.grids, 1)
	assert.Len(t, surface.grids[0], 1)
}

func TestPresenter_PullErrorStillRenders(t *testing.T) {
	devices := newFakeDevices("cam0")
	devices.pullErr = errors.New("dequeue failed")
	p, ctx, _ := newTestPresenter(devices)
	_, err := p.overlays.Toggle(ctx, IdentityShowCameras, newShowCamerasMode)
	require.NoError(t, err)

	surface := &recordingSurface{}
	err = p.Tick(context.Background(), surface, PointerSample{})
	assert.ErrorIs(t, err, devices.pullErr)
	assert.Equal(t, []string{"grid"}, surface.Calls())
	assert.Equal(t, uint64(1), ctx.Frames().Seq)
}

func TestPresenter_FPS(t *testing.T) {
	p, _, clock := newTestPresenter(newFakeDevices())
	for i := 0; i < 32; i++ {
		require.NoError(t, p.Tick(context.Background(), NopSurface{}, PointerSample{}))
		clock.Advance(time.Second / 30)
	}
	assert.InDelta(t, 30.0, p.FPS(), 1.5)
}
