package mapping

import (
	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// Entities is the entity collaborator. Each grid is backed by an entity whose
// transform places it on its map; anchored entities are parented to it.
type Entities interface {
	Spawn(parent ecs.EntityID, t geom.Transform) ecs.EntityID
	Despawn(id ecs.EntityID)
	EntityExists(id ecs.EntityID) bool
	GetParent(id ecs.EntityID) (ecs.EntityID, bool)
	TransformOf(id ecs.EntityID) geom.Transform
	SetTransform(id ecs.EntityID, t geom.Transform)
}

// FixtureSink is the physics collaborator. Polygons are in grid-local space.
type FixtureSink interface {
	RegisterFixtures(grid GridID, chunk geom.Vec2i, polygons []geom.Polygon)
	ClearFixtures(grid GridID, chunk geom.Vec2i)
}

type nopFixtures struct{}

func (nopFixtures) RegisterFixtures(GridID, geom.Vec2i, []geom.Polygon) {}
func (nopFixtures) ClearFixtures(GridID, geom.Vec2i)                    {}
