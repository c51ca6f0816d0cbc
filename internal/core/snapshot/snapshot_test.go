package snapshot

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/storage/component"
)

type position struct{ X, Y float32 }

type teamTag struct{ Team uint8 }

type world struct {
	reg    *component.Registry
	stores component.Stores
	pos    component.TypeTag
	team   component.TypeTag
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := component.NewRegistry(log.NewNop())
	w := &world{
		reg:  reg,
		pos:  reg.MustRegister(component.Fixed[position]("position")),
		team: reg.MustRegister(component.Fixed[teamTag]("team")),
	}
	reg.Seal()
	w.stores = component.NewStores(reg, component.StoreConfig{}, log.NewNop())
	t.Cleanup(w.stores.Close)
	return w
}

func (w *world) populate() EntityList {
	ps := w.stores[w.pos]
	ts := w.stores[w.team]

	a := ps.Emplace(position{1, 2})
	b := ps.Emplace(position{3, 4})
	c := ts.Emplace(teamTag{Team: 7})

	return EntityList{
		{ID: 20, Parent: 10, Components: []component.ComponentID{c.ID, b.ID}},
		{ID: 10, Parent: InvalidEntity, Components: []component.ComponentID{a.ID}},
		{ID: 30, Parent: 10},
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	w := newWorld(t)
	graph := w.populate()

	snap, err := Capture(graph, w.stores, w.reg)
	require.NoError(t, err)
	require.Equal(t, 3, snap.NumEntities())

	back, err := Deserialize(snap.Bytes(), w.reg)
	require.NoError(t, err)
	assert.True(t, snap.Equal(back))
	assert.Equal(t, snap.EntityRanges(), back.EntityRanges())
	assert.Equal(t, snap.Components(w.pos), back.Components(w.pos))
	assert.Equal(t, snap.Components(w.team), back.Components(w.team))

	entities := back.Entities()
	assert.Equal(t, []EntityID{10, 20, 30}, []EntityID{entities[0].ID, entities[1].ID, entities[2].ID})
	assert.Equal(t, InvalidEntity, entities[0].Parent)
	assert.Equal(t, EntityID(10), entities[1].Parent)
	assert.Empty(t, entities[2].Components)

	// ascending by type tag then id
	comps := entities[1].Components
	require.Len(t, comps, 2)
	assert.True(t, comps[0].Less(comps[1]))

	for _, r := range back.Components(w.pos) {
		id, payload := back.Record(r)
		c, ok := w.stores[w.pos].Find(id)
		require.True(t, ok)
		assert.Equal(t, c.Data, payload)
	}
}

func TestSerialize_LayoutSizes(t *testing.T) {
	w := newWorld(t)
	c := w.stores[w.pos].Emplace(position{})
	snap, err := Serialize([]Entity{{ID: 1, Parent: InvalidEntity, Components: []component.ComponentID{c.ID}}}, w.stores, w.reg)
	require.NoError(t, err)

	assert.Equal(t, EntityHeaderSize+PairSize+ComponentHeaderSize+8, snap.Len())
	assert.Equal(t, []Range{{Offset: 0, Length: EntityHeaderSize + PairSize}}, snap.EntityRanges())
	assert.Equal(t, []Range{{Offset: EntityHeaderSize + PairSize, Length: ComponentHeaderSize + 8}}, snap.Components(w.pos))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(snap.Bytes()[0:]))
	assert.Equal(t, uint32(InvalidEntity), binary.LittleEndian.Uint32(snap.Bytes()[4:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(snap.Bytes()[8:]))
}

func TestSerialize_Errors(t *testing.T) {
	w := newWorld(t)
	c := w.stores[w.pos].Emplace(position{})

	_, err := Serialize([]Entity{{ID: 1}, {ID: 1}}, w.stores, w.reg)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = Serialize([]Entity{{ID: 1, Components: []component.ComponentID{c.ID}}, {ID: 2, Components: []component.ComponentID{c.ID}}}, w.stores, w.reg)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = Serialize([]Entity{{ID: 1, Components: []component.ComponentID{{Type: w.pos, ID: 99}}}}, w.stores, w.reg)
	assert.True(t, errors.Is(err, ErrMissingComponent))

	_, err = Serialize([]Entity{{ID: 1, Components: []component.ComponentID{{Type: component.TagOf("ghost"), ID: 1}}}}, w.stores, w.reg)
	var unrecognized *UnrecognizedTypeError
	assert.True(t, errors.As(err, &unrecognized))
}

func TestDeserialize_Truncated(t *testing.T) {
	w := newWorld(t)
	snap, err := Capture(w.populate(), w.stores, w.reg)
	require.NoError(t, err)

	for _, cut := range []int{1, 5, EntityHeaderSize + 3, snap.Len() - 1} {
		_, err := Deserialize(snap.Bytes()[:snap.Len()-cut], w.reg)
		assert.True(t, errors.Is(err, ErrDataTooShort), "cut %d: %v", cut, err)
	}
}

func TestDeserialize_UnrecognizedType(t *testing.T) {
	w := newWorld(t)
	c := w.stores[w.pos].Emplace(position{})
	snap, err := Serialize([]Entity{{ID: 1, Components: []component.ComponentID{c.ID}}}, w.stores, w.reg)
	require.NoError(t, err)

	other := component.NewRegistry(log.NewNop())
	other.MustRegister(component.Fixed[teamTag]("team"))

	_, err = Deserialize(snap.Bytes(), other)
	var unrecognized *UnrecognizedTypeError
	require.True(t, errors.As(err, &unrecognized))
	assert.Equal(t, w.pos, unrecognized.Tag)
}

func TestDeserialize_OrderingViolations(t *testing.T) {
	w := newWorld(t)
	ent := func(id uint32) []byte {
		b := binary.LittleEndian.AppendUint32(nil, id)
		b = binary.LittleEndian.AppendUint32(b, uint32(InvalidEntity))
		return binary.LittleEndian.AppendUint32(b, 0)
	}

	_, err := Deserialize(append(ent(5), ent(5)...), w.reg)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	_, err = Deserialize(append(ent(5), ent(4)...), w.reg)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	// record id that does not match its pair
	b := binary.LittleEndian.AppendUint32(nil, 1)
	b = binary.LittleEndian.AppendUint32(b, uint32(InvalidEntity))
	b = binary.LittleEndian.AppendUint32(b, 1)
	b = binary.LittleEndian.AppendUint64(b, uint64(w.pos))
	b = binary.LittleEndian.AppendUint64(b, 3)
	b = binary.LittleEndian.AppendUint64(b, 4)
	b = append(b, make([]byte, 8)...)
	_, err = Deserialize(b, w.reg)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
}

func TestDeserialize_Empty(t *testing.T) {
	w := newWorld(t)
	snap, err := Deserialize(nil, w.reg)
	require.NoError(t, err)
	assert.Zero(t, snap.NumEntities())
	assert.Zero(t, snap.Len())
}

func TestSegments_CoverBuffer(t *testing.T) {
	w := newWorld(t)
	snap, err := Capture(w.populate(), w.stores, w.reg)
	require.NoError(t, err)

	off := 0
	kinds := map[SegmentKind]int{}
	for _, seg := range snap.Segments() {
		assert.Equal(t, off, seg.Offset)
		off = seg.End()
		kinds[seg.Key.Kind]++
	}
	assert.Equal(t, snap.Len(), off)
	assert.Equal(t, 3, kinds[SegmentEntity])
	assert.Equal(t, 3, kinds[SegmentComponent])
}

func TestRestore_ReproducesStores(t *testing.T) {
	src := newWorld(t)
	snap, err := Capture(src.populate(), src.stores, src.reg)
	require.NoError(t, err)

	dst := newWorld(t)
	dst.stores[dst.pos].Emplace(position{9, 9}) // replaced by restore
	entities, err := snap.Restore(dst.stores, dst.reg)
	require.NoError(t, err)
	assert.Len(t, entities, 3)

	again, err := Capture(EntityList(entities), dst.stores, dst.reg)
	require.NoError(t, err)
	assert.True(t, snap.Equal(again))
	assert.Equal(t, 3, dst.stores.Len())
}

func TestSaveLoad(t *testing.T) {
	w := newWorld(t)
	snap, err := Capture(w.populate(), w.stores, w.reg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, snap))
	loaded, err := Load(&buf, w.reg)
	require.NoError(t, err)
	assert.True(t, snap.Equal(loaded))
}

const poisoned = 0xFF

// newCheckedWorld registers a one-byte type whose decoder rejects 0xFF.
func newCheckedWorld(t *testing.T) (*component.Registry, component.Stores, component.TypeTag) {
	t.Helper()
	reg := component.NewRegistry(log.NewNop())
	tag := reg.MustRegister(component.TypeInfo{
		Name:  "checked",
		Size:  1,
		Align: 1,
		Construct: func(payload []byte, args ...any) error {
			if len(args) > 0 {
				payload[0] = args[0].(byte)
			}
			return nil
		},
		Deserialize: func(payload, src []byte) error {
			if src[0] == poisoned {
				return errors.New("poisoned byte")
			}
			payload[0] = src[0]
			return nil
		},
	})
	reg.Seal()
	stores := component.NewStores(reg, component.StoreConfig{}, log.NewNop())
	t.Cleanup(stores.Close)
	return reg, stores, tag
}

func checkedSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	reg, stores, tag := newCheckedWorld(t)
	ok := stores[tag].Emplace(byte(1))
	bad := stores[tag].Emplace(byte(poisoned))
	snap, err := Capture(EntityList{{ID: 1, Components: []component.ComponentID{ok.ID, bad.ID}}}, stores, reg)
	require.NoError(t, err)
	return snap
}

func TestDeserialize_RejectsUndecodablePayload(t *testing.T) {
	snap := checkedSnapshot(t)
	reg, _, _ := newCheckedWorld(t)

	_, err := Deserialize(snap.Bytes(), reg)
	assert.True(t, errors.Is(err, ErrBadPayload))
}

func TestRestore_FailureLeavesStoresUntouched(t *testing.T) {
	snap := checkedSnapshot(t)
	reg, stores, tag := newCheckedWorld(t)
	for i := 0; i < 5; i++ {
		stores[tag].Emplace(byte(10 + i))
	}

	_, err := snap.Restore(stores, reg)
	require.True(t, errors.Is(err, ErrBadPayload))

	require.Equal(t, 5, stores[tag].Len())
	for i := 0; i < 5; i++ {
		c, ok := stores[tag].Find(uint64(i + 1))
		require.True(t, ok)
		assert.Equal(t, byte(10+i), c.Data[0])
	}
}
