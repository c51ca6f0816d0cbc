// Package component holds the component type registry and the type-erased
// component store built on a slab allocator and an identity hash index.
package component

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/observability/log"
)

var (
	ErrRegistrySealed = errors.New("component registry is sealed")
	ErrDuplicateType  = errors.New("component type already registered")
	ErrTagCollision   = errors.New("component type tag collision")
	ErrInvalidType    = errors.New("invalid component type")
	ErrConstruct      = errors.New("component construction failed")
)

// TypeTag is the stable 64-bit hash of a component type name.
type TypeTag uint64

// TagOf returns the tag a type registered under name receives.
func TagOf(name string) TypeTag {
	return TypeTag(xxhash.Sum64String(name))
}

func (t TypeTag) String() string {
	return fmt.Sprintf("%016x", uint64(t))
}

// ComponentID addresses one component instance. Unique ids are scoped per type.
type ComponentID struct {
	Type TypeTag
	ID   uint64
}

// Compare orders by type tag, then by unique id.
func (c ComponentID) Compare(o ComponentID) int {
	if r := cmp.Compare(c.Type, o.Type); r != 0 {
		return r
	}
	return cmp.Compare(c.ID, o.ID)
}

func (c ComponentID) Less(o ComponentID) bool { return c.Compare(o) < 0 }

func (c ComponentID) String() string {
	return fmt.Sprintf("%s:%d", c.Type, c.ID)
}

// TypeInfo describes how to lay out and handle one component type. Payloads
// are exactly Size bytes both in memory and on the wire. Nil hooks default to
// zero-construction, no-op destruction and plain byte copies.
type TypeInfo struct {
	Name  string
	Tag   TypeTag
	Size  int
	Align int

	Construct   func(payload []byte, args ...any) error
	Destruct    func(payload []byte)
	Serialize   func(dst, payload []byte)
	Deserialize func(payload, src []byte) error
}

func (t *TypeInfo) construct(payload []byte, args ...any) error {
	if t.Construct != nil {
		return t.Construct(payload, args...)
	}
	return nil
}

func (t *TypeInfo) destruct(payload []byte) {
	if t.Destruct != nil {
		t.Destruct(payload)
	}
}

// SerializeInto writes the wire form of payload into dst.
func (t *TypeInfo) SerializeInto(dst, payload []byte) {
	if t.Serialize != nil {
		t.Serialize(dst, payload)
		return
	}
	copy(dst, payload)
}

// DeserializeInto fills payload from its wire form.
func (t *TypeInfo) DeserializeInto(payload, src []byte) error {
	if t.Deserialize != nil {
		return t.Deserialize(payload, src)
	}
	copy(payload, src)
	return nil
}

// Registry maps type tags to their TypeInfo. Types are registered during
// startup; after Seal the registry is read-only.
type Registry struct {
	mu     sync.RWMutex
	types  map[TypeTag]*TypeInfo
	sealed bool
	logger log.Log
}

func NewRegistry(logger log.Log) *Registry {
	return &Registry{
		types:  make(map[TypeTag]*TypeInfo),
		logger: log.OrProvide(logger).With(log.String("component", "registry")),
	}
}

// Register adds a type and returns its tag.
func (r *Registry) Register(info TypeInfo) (TypeTag, error) {
	if info.Name == "" || info.Size <= 0 {
		return 0, errors.Wrapf(ErrInvalidType, "name %q size %d", info.Name, info.Size)
	}
	if info.Align == 0 {
		info.Align = 1
	}
	if info.Align < 0 || info.Align&(info.Align-1) != 0 {
		return 0, errors.Wrapf(ErrInvalidType, "%s: alignment %d is not a power of two", info.Name, info.Align)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return 0, errors.Wrap(ErrRegistrySealed, info.Name)
	}

	info.Tag = TagOf(info.Name)
	if existing, ok := r.types[info.Tag]; ok {
		if existing.Name == info.Name {
			return 0, errors.Wrap(ErrDuplicateType, info.Name)
		}
		return 0, errors.Wrapf(ErrTagCollision, "%s and %s", existing.Name, info.Name)
	}

	stored := info
	r.types[info.Tag] = &stored
	r.logger.Debug("component type registered",
		log.String("type", info.Name),
		log.Stringer("tag", info.Tag),
		log.Int("size", info.Size))

	return info.Tag, nil
}

// MustRegister is Register for startup code; a failure is fatal.
func (r *Registry) MustRegister(info TypeInfo) TypeTag {
	tag, err := r.Register(info)
	if err != nil {
		r.logger.Panic("component type registration failed", log.String("type", info.Name), log.Error(err))
	}
	return tag
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Lookup(tag TypeTag) (*TypeInfo, bool) {
	r.mu.RLock()
	info, ok := r.types[tag]
	r.mu.RUnlock()
	return info, ok
}

// MustLookup returns the TypeInfo for tag. A miss is fatal.
func (r *Registry) MustLookup(tag TypeTag) *TypeInfo {
	info, ok := r.Lookup(tag)
	if !ok {
		r.logger.Panic("component type missing from registry", log.Stringer("tag", tag))
	}
	return info
}

// Name returns the registered name for diagnostics.
func (r *Registry) Name(tag TypeTag) string {
	if info, ok := r.Lookup(tag); ok {
		return info.Name
	}
	return "<unregistered " + tag.String() + ">"
}

// Tags returns every registered tag in ascending order.
func (r *Registry) Tags() []TypeTag {
	r.mu.RLock()
	tags := make([]TypeTag, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	r.mu.RUnlock()
	slices.Sort(tags)
	return tags
}
