package server

import (
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
)

type Position struct{ X, Y float32 }

type Velocity struct{ DX, DY float32 }

var (
	PositionType = component.TagOf("position")
	VelocityType = component.TagOf("velocity")
)

// Bounds of the demo arena; entities bounce off the edges.
const (
	ArenaWidth  = 100
	ArenaHeight = 100
)

// NewRegistry registers the demo component types and seals the registry.
// Authority and observers must build identical registries.
func NewRegistry(logger log.Log) *component.Registry {
	reg := component.NewRegistry(logger)
	reg.MustRegister(component.Fixed[Position]("position"))
	reg.MustRegister(component.Fixed[Velocity]("velocity"))
	reg.Seal()
	return reg
}

// World is the authoritative simulation state. It is owned by the tick
// goroutine.
type World struct {
	registry *component.Registry
	stores   component.Stores
	entities map[snapshot.EntityID]snapshot.Entity
	next     snapshot.EntityID
	rng      *rand.Rand
	logger   log.Log
}

func NewWorld(reg *component.Registry, cfg component.StoreConfig, seed uint64, logger log.Log) *World {
	logger = log.OrProvide(logger)
	return &World{
		registry: reg,
		stores:   component.NewStores(reg, cfg, logger),
		entities: make(map[snapshot.EntityID]snapshot.Entity),
		next:     1,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		logger:   logger.With(log.String("component", "world")),
	}
}

// Spawn creates an entity with a position and velocity. parent may be
// snapshot.InvalidEntity.
func (w *World) Spawn(parent snapshot.EntityID, p Position, v Velocity) snapshot.EntityID {
	pos := w.stores[PositionType].Emplace(p)
	vel := w.stores[VelocityType].Emplace(v)

	id := w.next
	w.next++
	w.entities[id] = snapshot.Entity{
		ID:         id,
		Parent:     parent,
		Components: []component.ComponentID{pos.ID, vel.ID},
	}
	return id
}

// SpawnRandom spawns an entity at a random point with a random heading.
func (w *World) SpawnRandom() snapshot.EntityID {
	return w.Spawn(snapshot.InvalidEntity,
		Position{X: w.rng.Float32() * ArenaWidth, Y: w.rng.Float32() * ArenaHeight},
		Velocity{DX: w.rng.Float32()*20 - 10, DY: w.rng.Float32()*20 - 10},
	)
}

// Despawn removes an entity and its components. Children are re-parented to
// nothing.
func (w *World) Despawn(id snapshot.EntityID) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	delete(w.entities, id)

	byType := make(map[component.TypeTag][]uint64)
	for _, c := range e.Components {
		byType[c.Type] = append(byType[c.Type], c.ID)
	}
	for tag, ids := range byType {
		slices.Sort(ids)
		w.stores[tag].RemoveSorted(ids)
	}

	for cid, child := range w.entities {
		if child.Parent == id {
			child.Parent = snapshot.InvalidEntity
			w.entities[cid] = child
		}
	}
	return true
}

// Step advances every entity by dt seconds.
func (w *World) Step(dt float32) {
	for _, e := range w.entities {
		var p Position
		var v Velocity
		var pc, vc component.Component
		for _, id := range e.Components {
			c, ok := w.stores[id.Type].Find(id.ID)
			if !ok {
				w.logger.Panic("entity references a missing component", log.Stringer("component", id))
			}
			switch id.Type {
			case PositionType:
				pc = c
				p, _ = component.Get[Position](c)
			case VelocityType:
				vc = c
				v, _ = component.Get[Velocity](c)
			}
		}

		p.X, v.DX = bounce(p.X+v.DX*dt, v.DX, ArenaWidth)
		p.Y, v.DY = bounce(p.Y+v.DY*dt, v.DY, ArenaHeight)
		_ = component.Set(pc, p)
		_ = component.Set(vc, v)
	}
}

func bounce(x, dx, limit float32) (float32, float32) {
	switch {
	case x < 0:
		return -x, -dx
	case x > limit:
		return 2*limit - x, -dx
	default:
		return x, dx
	}
}

// Entities lists live entities in id order.
func (w *World) Entities() []snapshot.Entity {
	ids := slices.Sorted(maps.Keys(w.entities))
	out := make([]snapshot.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.entities[id])
	}
	return out
}

// Len returns the number of live entities.
func (w *World) Len() int { return len(w.entities) }

// Oldest returns the live entity with the lowest id.
func (w *World) Oldest() (snapshot.EntityID, bool) {
	if len(w.entities) == 0 {
		return snapshot.InvalidEntity, false
	}
	return slices.Min(slices.Collect(maps.Keys(w.entities))), true
}

// Capture serializes the whole world.
func (w *World) Capture() (*snapshot.Snapshot, error) {
	return snapshot.Capture(w, w.stores, w.registry)
}

// Stores exposes the component stores.
func (w *World) Stores() component.Stores { return w.stores }

// Close destroys every entity and releases the stores.
func (w *World) Close() {
	clear(w.entities)
	w.stores.Close()
}
