package server

import (
	"slices"
	"sync"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
)

// Mirror holds an observer's local copy of the authoritative stores.
type Mirror struct {
	registry *component.Registry
	mu       sync.Mutex
	stores   component.Stores
	entities []snapshot.Entity
	frame    uint64
	logger   log.Log
}

func NewMirror(reg *component.Registry, cfg component.StoreConfig, logger log.Log) *Mirror {
	logger = log.OrProvide(logger)
	return &Mirror{
		registry: reg,
		stores:   component.NewStores(reg, cfg, logger),
		logger:   logger.With(log.String("component", "mirror")),
	}
}

// Apply restores snap into the local stores. Its signature matches
// replication.StateSink.
func (m *Mirror) Apply(frame uint64, snap *snapshot.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entities, err := snap.Restore(m.stores, m.registry)
	if err != nil {
		m.logger.Error("failed to restore snapshot", log.Uint64("frame", frame), log.Error(err))
		return
	}
	m.entities = entities
	m.frame = frame
}

// Frame returns the last restored frame.
func (m *Mirror) Frame() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Entities returns a copy of the entities of the last restored frame.
func (m *Mirror) Entities() []snapshot.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.entities)
	for i := range out {
		out[i].Components = slices.Clone(out[i].Components)
	}
	return out
}

// Position reads the position of an entity from the local stores.
func (m *Mirror) Position(id snapshot.EntityID) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entities {
		if e.ID != id {
			continue
		}
		for _, c := range e.Components {
			if c.Type != PositionType {
				continue
			}
			comp, ok := m.stores[PositionType].Find(c.ID)
			if !ok {
				return Position{}, false
			}
			p, err := component.Get[Position](comp)
			return p, err == nil
		}
	}
	return Position{}, false
}

func (m *Mirror) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores.Close()
}
