// Package world is the entity collaborator of the grid subsystem. It answers
// existence, parent and transform questions for grids and the entities
// anchored on them.
package world

import (
	"slices"

	"github.com/l1jgo/tilegrid/internal/component"
	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// Entities owns the ECS world and the transform hierarchy.
// Accessed only from the simulation goroutine.
type Entities struct {
	world      *ecs.World
	transforms *ecs.Store[component.Transform]
	parents    *ecs.Store[component.Parent]
}

func NewEntities() *Entities {
	e := &Entities{
		world:      ecs.NewWorld(),
		transforms: ecs.NewStore[component.Transform](),
		parents:    ecs.NewStore[component.Parent](),
	}
	e.world.Register(e.transforms)
	e.world.Register(e.parents)
	return e
}

// World exposes the underlying ECS world for systems that add stores.
func (e *Entities) World() *ecs.World { return e.world }

// Spawn creates an entity with a local transform. A zero parent leaves it at
// the map root.
func (e *Entities) Spawn(parent ecs.EntityID, t geom.Transform) ecs.EntityID {
	id := e.world.CreateEntity()
	e.transforms.Set(id, &component.Transform{Local: t})
	if !parent.IsZero() {
		e.parents.Set(id, &component.Parent{ID: parent})
	}
	return id
}

// Despawn destroys the entity and, recursively, everything parented to it.
func (e *Entities) Despawn(id ecs.EntityID) {
	if !e.world.Alive(id) {
		return
	}
	for _, child := range e.ChildrenOf(id) {
		e.Despawn(child)
	}
	e.world.Destroy(id)
}

func (e *Entities) EntityExists(id ecs.EntityID) bool {
	return e.world.Alive(id)
}

func (e *Entities) Count() int { return e.world.Len() }

// GetParent returns the parent of id, if it has one.
func (e *Entities) GetParent(id ecs.EntityID) (ecs.EntityID, bool) {
	p, ok := e.parents.Get(id)
	if !ok {
		return ecs.Invalid, false
	}
	return p.ID, true
}

// SetParent reparents id. A zero parent detaches it.
func (e *Entities) SetParent(id, parent ecs.EntityID) {
	if !e.world.Alive(id) {
		return
	}
	if parent.IsZero() {
		e.parents.Remove(id)
		return
	}
	e.parents.Set(id, &component.Parent{ID: parent})
}

// TransformOf returns the local transform, or identity for unknown entities.
func (e *Entities) TransformOf(id ecs.EntityID) geom.Transform {
	if t, ok := e.transforms.Get(id); ok {
		return t.Local
	}
	return geom.Identity
}

func (e *Entities) SetTransform(id ecs.EntityID, t geom.Transform) {
	if !e.world.Alive(id) {
		return
	}
	if cur, ok := e.transforms.Get(id); ok {
		cur.Local = t
		return
	}
	e.transforms.Set(id, &component.Transform{Local: t})
}

// WorldTransform composes the parent chain into a map-space transform.
func (e *Entities) WorldTransform(id ecs.EntityID) geom.Transform {
	out := e.TransformOf(id)
	seen := 0
	for p, ok := e.GetParent(id); ok && seen < 64; p, ok = e.GetParent(p) {
		pt := e.TransformOf(p)
		out = geom.Transform{
			Position: geom.RotateVec(out.Position, pt.Rotation).Add(pt.Position),
			Rotation: out.Rotation + pt.Rotation,
		}
		seen++
	}
	return out
}

// ChildrenOf lists the entities parented to id, in id order.
func (e *Entities) ChildrenOf(id ecs.EntityID) []ecs.EntityID {
	var out []ecs.EntityID
	for child, p := range e.parents.All() {
		if p.ID == id {
			out = append(out, child)
		}
	}
	slices.Sort(out)
	return out
}

// LocalPositions maps each child of parent to its position in the parent's
// frame.
func (e *Entities) LocalPositions(parent ecs.EntityID) map[ecs.EntityID]geom.Vec2 {
	out := make(map[ecs.EntityID]geom.Vec2)
	ecs.Join2(e.parents, e.transforms, func(id ecs.EntityID, p *component.Parent, t *component.Transform) {
		if p.ID == parent {
			out[id] = t.Local.Position
		}
	})
	return out
}
