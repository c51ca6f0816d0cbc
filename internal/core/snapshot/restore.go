package snapshot

import (
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/storage/component"
)

// Restore replaces the content of stores with the snapshot's components,
// keeping their unique ids, and returns the snapshot's entities. Every
// payload is decoded before the stores are touched, so a failure leaves them
// as they were.
func (s *Snapshot) Restore(stores component.Stores, reg *component.Registry) ([]Entity, error) {
	decoded := make(map[component.TypeTag][]byte, len(s.components))
	for _, tag := range s.Types() {
		if _, ok := stores.Store(tag); !ok {
			return nil, &UnrecognizedTypeError{Tag: tag, Name: reg.Name(tag)}
		}
		info := reg.MustLookup(tag)
		ranges := s.components[tag]
		buf := make([]byte, len(ranges)*info.Size)
		for i, r := range ranges {
			id, wire := s.Record(r)
			if err := info.DeserializeInto(buf[i*info.Size:(i+1)*info.Size], wire); err != nil {
				return nil, errors.Wrapf(ErrBadPayload, "restore %s %d: %v", info.Name, id, err)
			}
		}
		decoded[tag] = buf
	}

	stores.Clear()
	for tag, buf := range decoded {
		store := stores[tag]
		size := reg.MustLookup(tag).Size
		for i, r := range s.components[tag] {
			id, _ := s.Record(r)
			c := store.EmplaceWithID(id)
			copy(c.Data, buf[i*size:(i+1)*size])
		}
	}

	return s.Entities(), nil
}
