package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(NewRegistry(log.NewNop()), component.StoreConfig{SlotAlignment: 64}, 1, log.NewNop())
	t.Cleanup(w.Close)
	return w
}

func TestWorld_SpawnStepDespawn(t *testing.T) {
	w := newTestWorld(t)

	root := w.Spawn(snapshot.InvalidEntity, Position{X: 10, Y: 10}, Velocity{DX: 5, DY: -5})
	child := w.Spawn(root, Position{X: 99, Y: 1}, Velocity{DX: 10, DY: -10})
	require.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.Stores()[PositionType].Len())

	w.Step(0.5)

	snap, err := w.Capture()
	require.NoError(t, err)
	entities := snap.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, root, entities[0].ID)
	assert.Equal(t, root, entities[1].Parent)

	mirror := NewMirror(w.registry, component.StoreConfig{}, log.NewNop())
	t.Cleanup(mirror.Close)
	mirror.Apply(1, snap)

	p, ok := mirror.Position(root)
	require.True(t, ok)
	assert.Equal(t, Position{X: 12.5, Y: 7.5}, p)

	// bounced off the right and top edges
	p, ok = mirror.Position(child)
	require.True(t, ok)
	assert.Equal(t, Position{X: 96, Y: 4}, p)

	require.True(t, w.Despawn(root))
	assert.False(t, w.Despawn(root))
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 1, w.Stores()[VelocityType].Len())
	assert.Equal(t, snapshot.InvalidEntity, w.Entities()[0].Parent)

	oldest, ok := w.Oldest()
	require.True(t, ok)
	assert.Equal(t, child, oldest)
}

func TestWorld_RandomSpawnsStayInArena(t *testing.T) {
	w := newTestWorld(t)
	for i := 0; i < 50; i++ {
		w.SpawnRandom()
	}
	for i := 0; i < 200; i++ {
		w.Step(0.05)
	}

	snap, err := w.Capture()
	require.NoError(t, err)

	mirror := NewMirror(w.registry, component.StoreConfig{}, log.NewNop())
	t.Cleanup(mirror.Close)
	mirror.Apply(1, snap)

	require.Len(t, mirror.Entities(), 50)
	for _, e := range mirror.Entities() {
		p, ok := mirror.Position(e.ID)
		require.True(t, ok)
		assert.GreaterOrEqual(t, p.X, float32(0))
		assert.LessOrEqual(t, p.X, float32(ArenaWidth))
		assert.GreaterOrEqual(t, p.Y, float32(0))
		assert.LessOrEqual(t, p.Y, float32(ArenaHeight))
	}
	assert.Equal(t, uint64(1), mirror.Frame())
}

func TestMirror_EntitiesAreCopies(t *testing.T) {
	w := newTestWorld(t)
	id := w.Spawn(snapshot.InvalidEntity, Position{X: 1, Y: 2}, Velocity{})
	snap, err := w.Capture()
	require.NoError(t, err)

	mirror := NewMirror(w.registry, component.StoreConfig{}, log.NewNop())
	t.Cleanup(mirror.Close)
	mirror.Apply(1, snap)

	got := mirror.Entities()
	require.Len(t, got, 1)
	got[0].ID = 999
	got[0].Components[0] = component.ComponentID{}

	assert.Equal(t, id, mirror.Entities()[0].ID)
	p, ok := mirror.Position(id)
	require.True(t, ok)
	assert.Equal(t, Position{X: 1, Y: 2}, p)
}

func TestMirror_FailedRestoreDoesNotAdvance(t *testing.T) {
	w := newTestWorld(t)
	id := w.Spawn(snapshot.InvalidEntity, Position{X: 3, Y: 4}, Velocity{})
	snap, err := w.Capture()
	require.NoError(t, err)

	// a registry with only position has no store for velocity
	reg := component.NewRegistry(log.NewNop())
	reg.MustRegister(component.Fixed[Position]("position"))
	reg.Seal()
	mirror := NewMirror(reg, component.StoreConfig{}, log.NewNop())
	t.Cleanup(mirror.Close)

	mirror.Apply(7, snap)
	assert.Zero(t, mirror.Frame())
	assert.Empty(t, mirror.Entities())
	_, ok := mirror.Position(id)
	assert.False(t, ok)
}
