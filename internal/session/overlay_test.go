package session

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlaySet_ToggleTwiceRestores(t *testing.T) {
	ids := []Identity{IdentityShowCameras, IdentityToolView, IdentityDrawMesh}
	for _, start := range [][]Identity{{}, {IdentityShowCameras}, {IdentityToolView, IdentityDrawMesh}} {
		for _, id := range ids {
			ctx := newTestContext(newFakeDevices())
			o := NewOverlaySet()
			for _, s := range start {
				_, err := o.Toggle(ctx, s, overlayModes[s])
				require.NoError(t, err)
			}
			before := map[Identity]bool{}
			for _, s := range o.Identities() {
				before[s] = true
			}

			_, err := o.Toggle(ctx, id, overlayModes[id])
			require.NoError(t, err)
			_, err = o.Toggle(ctx, id, overlayModes[id])
			require.NoError(t, err)

			after := map[Identity]bool{}
			for _, s := range o.Identities() {
				after[s] = true
			}
			if diff := cmp.Diff(before, after); diff != "" {
				t.Errorf("%v から %s を2回切り替えると構成が変わる (-before +after):\n%s", start, id, diff)
			}
		}
	}
}

func TestOverlaySet_Scenario(t *testing.T) {
	ctx := newTestContext(newFakeDevices())
	o := NewOverlaySet()

	on, err := o.Toggle(ctx, IdentityShowCameras, newShowCamerasMode)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = o.Toggle(ctx, IdentityToolView, newToolViewMode)
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []Identity{IdentityShowCameras, IdentityToolView}, o.Identities())

	on, err = o.Toggle(ctx, IdentityShowCameras, newShowCamerasMode)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []Identity{IdentityToolView}, o.Identities())
	assert.True(t, o.Has(IdentityToolView))
	assert.False(t, o.Has(IdentityShowCameras))
}

func TestOverlaySet_InsertionOrder(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	o := NewOverlaySet()
	for _, id := range []Identity{"c", "a", "b"} {
		_, err := o.Toggle(ctx, id, traced(id, &log))
		require.NoError(t, err)
	}
	log = nil
	o.TickAll(ctx)
	assert.Equal(t, []string{"advance:c", "advance:a", "advance:b"}, log)

	surface := &recordingSurface{}
	o.RenderAll(ctx, surface)
	assert.Len(t, surface.Calls(), 3)
}

func TestOverlaySet_EnterExit(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	o := NewOverlaySet()

	_, err := o.Toggle(ctx, "x", traced("x", &log))
	require.NoError(t, err)
	_, err = o.Toggle(ctx, "x", traced("x", &log))
	require.NoError(t, err)
	assert.Equal(t, []string{"enter:x", "exit:x"}, log)

	boom := errors.New("no profile")
	on, err := o.Toggle(ctx, "y", func() Mode { return &traceMode{id: "y", enterErr: boom} })
	assert.ErrorIs(t, err, boom)
	assert.False(t, on)
	assert.Empty(t, o.Identities())
}

func TestOverlaySet_Clear(t *testing.T) {
	var log []string
	ctx := newTestContext(newFakeDevices())
	o := NewOverlaySet()
	_, _ = o.Toggle(ctx, "a", traced("a", &log))
	_, _ = o.Toggle(ctx, "b", traced("b", &log))
	o.Clear(ctx)
	assert.Empty(t, o.Identities())
	assert.Equal(t, []string{"enter:a", "enter:b", "exit:a", "exit:b"}, log)
}
