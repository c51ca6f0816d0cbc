package component

import "github.com/zeusync/framesync/internal/core/observability/log"

// Stores is the set of component stores of one world, keyed by type tag.
type Stores map[TypeTag]*Store

// NewStores creates one store per registered type.
func NewStores(reg *Registry, cfg StoreConfig, logger log.Log) Stores {
	stores := make(Stores)
	for _, tag := range reg.Tags() {
		stores[tag] = NewStore(reg, tag, cfg, logger)
	}
	return stores
}

// Store returns the store for tag.
func (s Stores) Store(tag TypeTag) (*Store, bool) {
	st, ok := s[tag]
	return st, ok
}

// Len returns the total number of live components.
func (s Stores) Len() int {
	n := 0
	for _, st := range s {
		n += st.Len()
	}
	return n
}

func (s Stores) Clear() {
	for _, st := range s {
		st.Clear()
	}
}

func (s Stores) Close() {
	for _, st := range s {
		st.Close()
	}
}
