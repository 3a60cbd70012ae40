package component

import (
	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// Transform is an entity's position and rotation relative to its parent, or
// to the map origin when it has none.
// Pure data; the world package composes parent chains.
type Transform struct {
	Local geom.Transform
}

// Parent links an entity to the entity it is attached to. Anchored entities
// are parented to their grid.
type Parent struct {
	ID ecs.EntityID
}
