package component

import (
	"encoding/binary"
	"iter"
	"slices"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/storage/index"
	"github.com/zeusync/framesync/internal/core/storage/slab"
)

const idHeaderSize = 8

// Component is a live component instance. Data aliases the store's slot and
// is valid until the component is removed.
type Component struct {
	ID   ComponentID
	Data []byte
}

// StoreConfig tunes slot layout.
type StoreConfig struct {
	// SlotAlignment raises slot alignment above the type's own, e.g. to a cache line.
	SlotAlignment int
	// IndexHint pre-sizes the identity index.
	IndexHint int
}

// Store holds every live instance of one component type. It must only be
// mutated by the goroutine that owns the simulation tick.
type Store struct {
	registry  *Registry
	tag       TypeTag
	size      int
	headerLen int
	slab      *slab.Allocator
	index     *index.Index[slab.Ref]
	nextID    uint64
	logger    log.Log
}

// NewStore creates the store for tag. The type must already be registered.
func NewStore(reg *Registry, tag TypeTag, cfg StoreConfig, logger log.Log) *Store {
	base := log.OrProvide(logger)
	info := reg.MustLookup(tag)

	align := max(info.Align, idHeaderSize, cfg.SlotAlignment)
	if align&(align-1) != 0 {
		base.Panic("slot alignment must be a power of two", log.Int("alignment", align))
	}
	headerLen := (idHeaderSize + info.Align - 1) &^ (info.Align - 1)

	return &Store{
		registry:  reg,
		tag:       tag,
		size:      info.Size,
		headerLen: headerLen,
		slab:      slab.New(headerLen+info.Size, align, base),
		index:     index.New[slab.Ref](cfg.IndexHint),
		nextID:    1,
		logger:    base.With(log.String("component", "store"), log.String("type", info.Name)),
	}
}

// Type returns the tag of the stored component type.
func (s *Store) Type() TypeTag { return s.tag }

// Len returns the number of live components.
func (s *Store) Len() int { return s.index.Len() }

// NextID returns the unique id the next Emplace will use.
func (s *Store) NextID() uint64 { return s.nextID }

// Emplace constructs a component with a fresh unique id.
func (s *Store) Emplace(args ...any) Component {
	id := s.nextID
	s.nextID++
	return s.emplace(id, args...)
}

// EmplaceWithID constructs a component under a caller-chosen unique id,
// typically one received from the network. Reusing a live id is fatal.
func (s *Store) EmplaceWithID(id uint64, args ...any) Component {
	if id == 0 {
		s.logger.Panic("unique id 0 is reserved")
	}
	if _, exists := s.index.Find(id); exists {
		s.logger.Panic("duplicate component id", log.Uint64("id", id))
	}
	if id >= s.nextID {
		s.nextID = id + 1
	}
	return s.emplace(id, args...)
}

func (s *Store) emplace(id uint64, args ...any) Component {
	info := s.registry.MustLookup(s.tag)

	ref := s.slab.Alloc()
	mem := s.slab.Bytes(ref)
	binary.LittleEndian.PutUint64(mem, id)
	payload := mem[s.headerLen:]
	if err := info.construct(payload, args...); err != nil {
		s.slab.Free(ref)
		s.logger.Panic("component construction failed", log.Uint64("id", id), log.Error(err))
	}

	if !s.index.Insert(id, ref) {
		s.logger.Panic("duplicate component id", log.Uint64("id", id))
	}

	return Component{ID: ComponentID{Type: s.tag, ID: id}, Data: payload}
}

// Find returns the component with the given unique id.
func (s *Store) Find(id uint64) (Component, bool) {
	ref, ok := s.index.Find(id)
	if !ok {
		return Component{}, false
	}
	return Component{ID: ComponentID{Type: s.tag, ID: id}, Data: s.slab.Bytes(ref)[s.headerLen:]}, true
}

// Remove destroys the component with the given unique id. Removing an absent
// id is a no-op; the return value reports whether anything was removed.
func (s *Store) Remove(id uint64) bool {
	ref, ok := s.index.TryRemove(id)
	if !ok {
		return false
	}
	s.destroy(s.registry.MustLookup(s.tag), ref)
	return true
}

// RemoveSorted removes a batch of components whose ids arrive in ascending
// order, as deletion lists from the network do. Each removal is independent;
// absent ids are skipped. It returns the number of components removed.
func (s *Store) RemoveSorted(ids []uint64) int {
	if !slices.IsSorted(ids) {
		s.logger.Warn("removal batch is not sorted", log.Int("count", len(ids)))
	}

	info := s.registry.MustLookup(s.tag)
	removed := 0
	for _, id := range ids {
		ref, ok := s.index.TryRemove(id)
		if !ok {
			continue
		}
		s.destroy(info, ref)
		removed++
	}
	return removed
}

// Clear destroys every component. It walks the index bucket by bucket
// instead of removing key by key.
func (s *Store) Clear() {
	if s.index.Len() == 0 {
		return
	}
	info := s.registry.MustLookup(s.tag)
	for i := 0; i < s.index.NumBuckets(); i++ {
		for _, e := range s.index.BucketAt(i) {
			s.destroy(info, e.Value)
		}
	}
	s.index.Clear()
}

// All yields every live component in slot order.
func (s *Store) All() iter.Seq[Component] {
	return func(yield func(Component) bool) {
		for _, mem := range s.slab.All() {
			c := Component{
				ID:   ComponentID{Type: s.tag, ID: binary.LittleEndian.Uint64(mem)},
				Data: mem[s.headerLen:],
			}
			if !yield(c) {
				return
			}
		}
	}
}

// IDs returns the unique ids of all live components in ascending order.
func (s *Store) IDs() []uint64 {
	ids := make([]uint64, 0, s.index.Len())
	for id := range s.index.All() {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close destroys every component and releases the slab.
func (s *Store) Close() {
	s.Clear()
	s.slab.Close()
}

func (s *Store) destroy(info *TypeInfo, ref slab.Ref) {
	info.destruct(s.slab.Bytes(ref)[s.headerLen:])
	s.slab.Free(ref)
}
