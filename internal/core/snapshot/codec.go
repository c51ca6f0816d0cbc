package snapshot

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/storage/component"
)

// StoreSource resolves the store holding components of one type.
type StoreSource interface {
	Store(tag component.TypeTag) (*component.Store, bool)
}

// Capture serializes every entity of graph.
func Capture(graph EntityGraph, stores StoreSource, reg *component.Registry) (*Snapshot, error) {
	return Serialize(graph.Entities(), stores, reg)
}

// Serialize writes entities and the components they list into a new snapshot.
// Entities and their component lists are sorted into canonical order first;
// the caller's slices are not modified.
func Serialize(entities []Entity, stores StoreSource, reg *component.Registry) (*Snapshot, error) {
	ordered := slices.Clone(entities)
	slices.SortFunc(ordered, func(a, b Entity) int { return cmp.Compare(a.ID, b.ID) })

	size := 0
	for i, e := range ordered {
		if i > 0 && ordered[i-1].ID == e.ID {
			return nil, errors.Wrapf(ErrOutOfOrder, "entity %d listed twice", e.ID)
		}
		size += EntityHeaderSize + len(e.Components)*(PairSize+ComponentHeaderSize)
		for _, id := range e.Components {
			info, ok := reg.Lookup(id.Type)
			if !ok {
				return nil, &UnrecognizedTypeError{Tag: id.Type}
			}
			size += info.Size
		}
	}

	s := &Snapshot{
		buf:        make([]byte, 0, size),
		entities:   make([]Range, 0, len(ordered)),
		components: make(map[component.TypeTag][]Range),
	}
	seen := make(map[component.ComponentID]struct{})

	for _, e := range ordered {
		ids := slices.Clone(e.Components)
		slices.SortFunc(ids, component.ComponentID.Compare)

		start := len(s.buf)
		s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(e.ID))
		s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(e.Parent))
		s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(len(ids)))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return nil, errors.Wrapf(ErrOutOfOrder, "component %s listed twice", id)
			}
			seen[id] = struct{}{}
			s.buf = binary.LittleEndian.AppendUint64(s.buf, uint64(id.Type))
			s.buf = binary.LittleEndian.AppendUint64(s.buf, id.ID)
		}
		s.entities = append(s.entities, Range{Offset: start, Length: len(s.buf) - start})

		for _, id := range ids {
			if err := s.appendComponent(id, stores, reg); err != nil {
				return nil, errors.Wrapf(err, "entity %d", e.ID)
			}
		}
	}

	return s, nil
}

func (s *Snapshot) appendComponent(id component.ComponentID, stores StoreSource, reg *component.Registry) error {
	info, _ := reg.Lookup(id.Type)
	store, ok := stores.Store(id.Type)
	if !ok {
		return &UnrecognizedTypeError{Tag: id.Type, Name: info.Name}
	}
	c, ok := store.Find(id.ID)
	if !ok {
		return errors.Wrapf(ErrMissingComponent, "%s %s", info.Name, id)
	}

	start := len(s.buf)
	s.buf = binary.LittleEndian.AppendUint64(s.buf, id.ID)
	s.buf = append(s.buf, make([]byte, info.Size)...)
	info.SerializeInto(s.buf[start+ComponentHeaderSize:], c.Data)
	s.components[id.Type] = append(s.components[id.Type], Range{Offset: start, Length: len(s.buf) - start})
	return nil
}

// Deserialize rebuilds the indices of a serialized snapshot by walking its
// headers and checks that every payload decodes as its registered type. The
// snapshot keeps its own copy of data.
func Deserialize(data []byte, reg *component.Registry) (*Snapshot, error) {
	s := &Snapshot{
		buf:        slices.Clone(data),
		components: make(map[component.TypeTag][]Range),
	}
	if s.buf == nil {
		s.buf = []byte{}
	}

	seen := make(map[component.ComponentID]struct{})
	scratch := make(map[component.TypeTag][]byte)
	off := 0
	var prev EntityID
	for i := 0; off < len(s.buf); i++ {
		if len(s.buf)-off < EntityHeaderSize {
			return nil, errors.Wrapf(ErrDataTooShort, "entity header at %d", off)
		}
		id := EntityID(binary.LittleEndian.Uint32(s.buf[off:]))
		count := int(binary.LittleEndian.Uint32(s.buf[off+8:]))
		if i > 0 && id <= prev {
			return nil, errors.Wrapf(ErrOutOfOrder, "entity %d after %d", id, prev)
		}
		prev = id

		if (len(s.buf)-off-EntityHeaderSize)/PairSize < count {
			return nil, errors.Wrapf(ErrDataTooShort, "entity %d lists %d components", id, count)
		}
		start := off
		off += EntityHeaderSize

		pairs := make([]component.ComponentID, count)
		for j := range pairs {
			pairs[j] = component.ComponentID{
				Type: component.TypeTag(binary.LittleEndian.Uint64(s.buf[off:])),
				ID:   binary.LittleEndian.Uint64(s.buf[off+8:]),
			}
			off += PairSize
			if j > 0 && !pairs[j-1].Less(pairs[j]) {
				return nil, errors.Wrapf(ErrOutOfOrder, "entity %d component %s after %s", id, pairs[j], pairs[j-1])
			}
			if _, dup := seen[pairs[j]]; dup {
				return nil, errors.Wrapf(ErrOutOfOrder, "component %s listed twice", pairs[j])
			}
			seen[pairs[j]] = struct{}{}
		}
		s.entities = append(s.entities, Range{Offset: start, Length: off - start})

		for _, pair := range pairs {
			info, ok := reg.Lookup(pair.Type)
			if !ok {
				return nil, &UnrecognizedTypeError{Tag: pair.Type}
			}
			n := ComponentHeaderSize + info.Size
			if len(s.buf)-off < n {
				return nil, errors.Wrapf(ErrDataTooShort, "%s record at %d", info.Name, off)
			}
			if uid := binary.LittleEndian.Uint64(s.buf[off:]); uid != pair.ID {
				return nil, errors.Wrapf(ErrOutOfOrder, "record %d where %s was listed", uid, pair)
			}
			if err := decodePayload(info, scratch, s.buf[off+ComponentHeaderSize:off+n]); err != nil {
				return nil, errors.Wrapf(ErrBadPayload, "%s: %v", pair, err)
			}
			s.components[pair.Type] = append(s.components[pair.Type], Range{Offset: off, Length: n})
			off += n
		}
	}

	return s, nil
}

// decodePayload runs the type's decoder into a per-type scratch slot.
func decodePayload(info *component.TypeInfo, scratch map[component.TypeTag][]byte, wire []byte) error {
	dst, ok := scratch[info.Tag]
	if !ok {
		dst = make([]byte, info.Size)
		scratch[info.Tag] = dst
	}
	return info.DeserializeInto(dst, wire)
}
