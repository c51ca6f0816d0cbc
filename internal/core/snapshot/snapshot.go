// Package snapshot serializes entities and their components into one
// contiguous, indexed byte buffer.
//
// Layout (little-endian, unpadded), entities in ascending id order:
//
//	entity header   entity id u32 | parent id u32 | component count u32
//	pairs           count x (type tag u64 | unique id u64), ascending
//	records         count x (unique id u64 | payload), in pair order
//
// A payload is exactly the registered size of its type, so the buffer can be
// walked with nothing but the header sizes and the registry.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/zeusync/framesync/internal/core/storage/component"
)

const (
	EntityHeaderSize    = 12
	PairSize            = 16
	ComponentHeaderSize = 8
)

// EntityID identifies an entity. InvalidEntity means none.
type EntityID uint32

const InvalidEntity EntityID = math.MaxUint32

// Entity is one node of the entity graph with the components it owns.
type Entity struct {
	ID         EntityID
	Parent     EntityID
	Components []component.ComponentID
}

// EntityGraph supplies the entities to capture. Parent links are copied
// through without interpretation.
type EntityGraph interface {
	Entities() []Entity
}

// EntityList is the trivial EntityGraph.
type EntityList []Entity

func (l EntityList) Entities() []Entity { return l }

// Range is a byte range of the snapshot buffer.
type Range struct {
	Offset int
	Length int
}

func (r Range) End() int { return r.Offset + r.Length }

// Snapshot owns one serialized buffer plus the byte ranges of every entity
// and every component record, grouped by type. It is immutable.
type Snapshot struct {
	buf        []byte
	entities   []Range
	components map[component.TypeTag][]Range
}

// Bytes returns the serialized buffer. Callers must not modify it.
func (s *Snapshot) Bytes() []byte { return s.buf }

// Len returns the buffer size in bytes.
func (s *Snapshot) Len() int { return len(s.buf) }

// NumEntities returns the number of serialized entities.
func (s *Snapshot) NumEntities() int { return len(s.entities) }

// EntityRanges returns the range of every entity header plus its pairs.
func (s *Snapshot) EntityRanges() []Range { return s.entities }

// Components returns the record ranges of one type in buffer order.
func (s *Snapshot) Components(tag component.TypeTag) []Range { return s.components[tag] }

// Types returns every type present in the snapshot in ascending tag order.
func (s *Snapshot) Types() []component.TypeTag {
	tags := make([]component.TypeTag, 0, len(s.components))
	for tag := range s.components {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Entity decodes the i-th entity.
func (s *Snapshot) Entity(i int) Entity {
	r := s.entities[i]
	b := s.buf[r.Offset:r.End()]
	e := Entity{
		ID:         EntityID(binary.LittleEndian.Uint32(b[0:])),
		Parent:     EntityID(binary.LittleEndian.Uint32(b[4:])),
		Components: make([]component.ComponentID, binary.LittleEndian.Uint32(b[8:])),
	}
	for j := range e.Components {
		p := b[EntityHeaderSize+j*PairSize:]
		e.Components[j] = component.ComponentID{
			Type: component.TypeTag(binary.LittleEndian.Uint64(p[0:])),
			ID:   binary.LittleEndian.Uint64(p[8:]),
		}
	}
	return e
}

// Entities decodes every entity.
func (s *Snapshot) Entities() []Entity {
	out := make([]Entity, len(s.entities))
	for i := range s.entities {
		out[i] = s.Entity(i)
	}
	return out
}

// Record returns the unique id and the wire payload of a component record.
func (s *Snapshot) Record(r Range) (uint64, []byte) {
	b := s.buf[r.Offset:r.End()]
	return binary.LittleEndian.Uint64(b), b[ComponentHeaderSize:]
}

// Equal reports whether both snapshots hold the same bytes. The layout is
// canonical, so equal state means equal bytes.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return bytes.Equal(s.buf, o.buf)
}

// SegmentKind tells entity blocks from component records.
type SegmentKind uint8

const (
	SegmentEntity SegmentKind = iota + 1
	SegmentComponent
)

// SegmentKey identifies a segment across snapshots.
type SegmentKey struct {
	Kind SegmentKind
	Type component.TypeTag
	ID   uint64
}

// Segment is one entity block or component record.
type Segment struct {
	Key SegmentKey
	Range
}

// Segments lists every entity block and component record in buffer order.
// Together they cover the whole buffer.
func (s *Snapshot) Segments() []Segment {
	n := len(s.entities)
	for _, rs := range s.components {
		n += len(rs)
	}
	segs := make([]Segment, 0, n)
	for _, r := range s.entities {
		id := binary.LittleEndian.Uint32(s.buf[r.Offset:])
		segs = append(segs, Segment{Key: SegmentKey{Kind: SegmentEntity, ID: uint64(id)}, Range: r})
	}
	for tag, rs := range s.components {
		for _, r := range rs {
			id := binary.LittleEndian.Uint64(s.buf[r.Offset:])
			segs = append(segs, Segment{Key: SegmentKey{Kind: SegmentComponent, Type: tag, ID: id}, Range: r})
		}
	}
	slices.SortFunc(segs, func(a, b Segment) int { return a.Offset - b.Offset })
	return segs
}
