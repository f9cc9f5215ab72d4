package session

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusiveStack_Toggle(t *testing.T) {
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()

	_, ok := s.Current()
	assert.False(t, ok)

	on, err := s.Toggle(ctx, IdentityScan, newScanMode)
	require.NoError(t, err)
	assert.True(t, on)
	id, _ := s.Current()
	assert.Equal(t, IdentityScan, id)

	// 別の種類のトグルは現在のモードを取り除くだけ
	on, err = s.Toggle(ctx, IdentityTexture, newTextureMode)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, 0, s.Len())
}

func TestExclusiveStack_SingleActiveProperty(t *testing.T) {
	ids := []Identity{IdentityScan, IdentityCalibrateCamera, IdentityCalibrateWorld, IdentityTexture}
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		ctx := newTestContext(newFakeDevices())
		s := NewExclusiveStack()
		for step := 0; step < 40; step++ {
			id := ids[rng.Intn(len(ids))]
			_, err := s.Toggle(ctx, id, exclusiveModes[id])
			require.NoError(t, err)
			require.LessOrEqual(t, s.Len(), 1)
		}
	}

	t.Run("同じ種類を奇数回で有効、偶数回で空", func(t *testing.T) {
		for _, id := range ids {
			ctx := newTestContext(newFakeDevices())
			s := NewExclusiveStack()
			for n := 1; n <= 6; n++ {
				_, err := s.Toggle(ctx, id, exclusiveModes[id])
				require.NoError(t, err)
				cur, ok := s.Current()
				if n%2 == 1 {
					assert.True(t, ok)
					assert.Equal(t, id, cur)
				} else {
					assert.False(t, ok)
				}
			}
		}
	})
}

func TestExclusiveStack_PushSameIdentity(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()

	require.NoError(t, s.Push(ctx, traced("a", &log)()))
	require.NoError(t, s.Push(ctx, traced("a", &log)()))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Push(ctx, traced("b", &log)()))
	assert.Equal(t, 2, s.Len())
	id, _ := s.Current()
	assert.Equal(t, Identity("b"), id)
	assert.Equal(t, []string{"enter:a", "enter:b"}, log)
}

func TestExclusiveStack_RemoveEmpty(t *testing.T) {
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()
	assert.False(t, s.Remove(ctx))
	assert.NotPanics(t, func() { s.Tick(ctx) })
}

func TestExclusiveStack_FinishedPoppedBeforeAdvance(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()

	require.NoError(t, s.Push(ctx, traced("base", &log)()))
	top := &traceMode{id: "top", log: &log}
	require.NoError(t, s.Push(ctx, top))

	s.Tick(ctx)
	top.finish()
	s.Tick(ctx)

	assert.Equal(t, []string{
		"enter:base", "enter:top",
		"advance:top",
		"exit:top", "advance:base",
	}, log)
	assert.Equal(t, 1, s.Len())
}

func TestExclusiveStack_EnterFailure(t *testing.T) {
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()
	boom := errors.New("busy")

	on, err := s.Toggle(ctx, "x", func() Mode { return &traceMode{id: "x", enterErr: boom} })
	assert.ErrorIs(t, err, boom)
	assert.False(t, on)
	assert.Equal(t, 0, s.Len())
}

func TestExclusiveStack_ExitOnce(t *testing.T) {
	exits := 0
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()
	m := &traceMode{id: "x", exits: &exits}
	require.NoError(t, s.Push(ctx, m))

	m.finish()
	s.Tick(ctx)
	assert.False(t, s.Remove(ctx))
	s.Clear(ctx)
	assert.Equal(t, 1, exits)
}

func TestExclusiveStack_ClearExitsAll(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	s := NewExclusiveStack()
	require.NoError(t, s.Push(ctx, traced("a", &log)()))
	require.NoError(t, s.Push(ctx, traced("b", &log)()))

	s.Clear(ctx)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{"enter:a", "enter:b", "exit:b", "exit:a"}, log)
}
