package component

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/framesync/internal/core/observability/log"
)

type position struct {
	X, Y, Z float32
}

type health struct {
	Current, Max int32
}

func newRegistry(t *testing.T) (*Registry, TypeTag, TypeTag) {
	t.Helper()
	reg := NewRegistry(log.NewNop())
	pos, err := reg.Register(Fixed[position]("position"))
	require.NoError(t, err)
	hp, err := reg.Register(Fixed[health]("health"))
	require.NoError(t, err)
	reg.Seal()
	return reg, pos, hp
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, pos, _ := newRegistry(t)

	assert.Equal(t, TagOf("position"), pos)
	info, ok := reg.Lookup(pos)
	require.True(t, ok)
	assert.Equal(t, 12, info.Size)
	assert.Equal(t, "position", reg.Name(pos))
	assert.Contains(t, reg.Name(TagOf("missing")), "unregistered")
	assert.Len(t, reg.Tags(), 2)

	_, err := reg.Register(Fixed[health]("late"))
	assert.True(t, errors.Is(err, ErrRegistrySealed))
	assert.Panics(t, func() { reg.MustLookup(TagOf("missing")) })
}

func TestRegistry_RejectsDuplicatesAndBadTypes(t *testing.T) {
	reg := NewRegistry(log.NewNop())
	_, err := reg.Register(Fixed[position]("position"))
	require.NoError(t, err)

	_, err = reg.Register(Fixed[position]("position"))
	assert.True(t, errors.Is(err, ErrDuplicateType))

	_, err = reg.Register(TypeInfo{Name: "empty"})
	assert.True(t, errors.Is(err, ErrInvalidType))

	_, err = reg.Register(TypeInfo{Name: "odd", Size: 4, Align: 3})
	assert.True(t, errors.Is(err, ErrInvalidType))

	_, err = reg.Register(Fixed[[]byte]("variable"))
	assert.True(t, errors.Is(err, ErrInvalidType))
	assert.Panics(t, func() { reg.MustRegister(Fixed[string]("text")) })
}

func TestComponentID_Order(t *testing.T) {
	a := ComponentID{Type: 1, ID: 9}
	b := ComponentID{Type: 2, ID: 1}
	c := ComponentID{Type: 2, ID: 3}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.Zero(t, c.Compare(c))
	assert.Positive(t, c.Compare(a))
}

func TestStore_EmplaceFindRemove(t *testing.T) {
	reg, pos, _ := newRegistry(t)
	s := NewStore(reg, pos, StoreConfig{}, log.NewNop())
	defer s.Close()

	c := s.Emplace(position{1, 2, 3})
	assert.Equal(t, ComponentID{Type: pos, ID: 1}, c.ID)

	got, ok := s.Find(1)
	require.True(t, ok)
	v, err := Get[position](got)
	require.NoError(t, err)
	assert.Equal(t, position{1, 2, 3}, v)

	require.NoError(t, Set(got, position{4, 5, 6}))
	again, _ := s.Find(1)
	v, _ = Get[position](again)
	assert.Equal(t, position{4, 5, 6}, v)

	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))
	_, ok = s.Find(1)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStore_RemoveSorted(t *testing.T) {
	reg, pos, _ := newRegistry(t)
	s := NewStore(reg, pos, StoreConfig{}, log.NewNop())
	defer s.Close()

	for _, id := range []uint64{1, 3, 7} {
		s.EmplaceWithID(id, position{X: float32(id)})
	}

	assert.Equal(t, 2, s.RemoveSorted([]uint64{3, 7}))
	_, ok := s.Find(1)
	assert.True(t, ok)
	_, ok = s.Find(3)
	assert.False(t, ok)
	_, ok = s.Find(7)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		assert.False(t, s.Remove(3))
		assert.Zero(t, s.RemoveSorted([]uint64{7}))
	})
	assert.Equal(t, []uint64{1}, s.IDs())
}

func TestStore_EmplaceWithIDAdvancesFreshIDs(t *testing.T) {
	reg, pos, _ := newRegistry(t)
	s := NewStore(reg, pos, StoreConfig{}, log.NewNop())
	defer s.Close()

	s.EmplaceWithID(41)
	assert.Equal(t, uint64(42), s.Emplace().ID.ID)
	assert.Panics(t, func() { s.EmplaceWithID(41) })
	assert.Panics(t, func() { s.EmplaceWithID(0) })
}

func TestStore_DestructorRunsOnRemoveAndClear(t *testing.T) {
	destroyed := map[byte]int{}
	reg := NewRegistry(log.NewNop())
	tag := reg.MustRegister(TypeInfo{
		Name:  "tracked",
		Size:  1,
		Align: 1,
		Construct: func(payload []byte, args ...any) error {
			payload[0] = args[0].(byte)
			return nil
		},
		Destruct: func(payload []byte) {
			destroyed[payload[0]]++
		},
	})

	s := NewStore(reg, tag, StoreConfig{SlotAlignment: 64}, log.NewNop())
	for i := 0; i < 200; i++ {
		s.Emplace(byte(i))
	}

	s.Remove(1) // first emplaced, payload 0
	assert.Equal(t, 1, destroyed[0])

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Len(t, destroyed, 200)
	for _, n := range destroyed {
		assert.Equal(t, 1, n)
	}
	s.Close()
}

func TestStore_AllVisitsEveryLiveComponent(t *testing.T) {
	reg, _, hp := newRegistry(t)
	s := NewStore(reg, hp, StoreConfig{}, log.NewNop())
	defer s.Close()

	for i := int32(0); i < 130; i++ {
		s.Emplace(health{Current: i, Max: 100})
	}
	s.RemoveSorted([]uint64{2, 4, 6})

	seen := map[uint64]int32{}
	for c := range s.All() {
		v, err := Get[health](c)
		require.NoError(t, err)
		seen[c.ID.ID] = v.Current
	}
	assert.Len(t, seen, 127)
	assert.Equal(t, int32(0), seen[1])
	assert.NotContains(t, seen, uint64(4))
}

func TestStores_OnePerType(t *testing.T) {
	reg, pos, hp := newRegistry(t)
	stores := NewStores(reg, StoreConfig{}, log.NewNop())
	defer stores.Close()

	require.Len(t, stores, 2)
	p, ok := stores.Store(pos)
	require.True(t, ok)
	p.Emplace()
	h, _ := stores.Store(hp)
	h.Emplace()
	h.Emplace()
	assert.Equal(t, 3, stores.Len())

	stores.Clear()
	assert.Zero(t, stores.Len())
}

func TestStore_WrongConstructorArgumentIsFatal(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg, pos, _ := newRegistry(t)
	s := NewStore(reg, pos, StoreConfig{}, log.FromZap(zap.New(core), log.LevelDebug))
	defer s.Close()

	assert.Panics(t, func() { s.Emplace(health{Current: 1}) })
	assert.Equal(t, 1, logs.FilterMessage("component construction failed").Len())
	assert.Zero(t, s.Len())

	c := s.Emplace(position{X: 1})
	v, err := Get[position](c)
	require.NoError(t, err)
	assert.Equal(t, float32(1), v.X)
}

func TestNewStore_UnregisteredTypeIsFatal(t *testing.T) {
	reg, _, _ := newRegistry(t)
	assert.Panics(t, func() { NewStore(reg, TagOf("ghost"), StoreConfig{}, log.NewNop()) })
}
