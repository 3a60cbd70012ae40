package mapping

import (
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// Events raised by the manager. They are queued on the bus and delivered in
// emission order when the bus is flushed.

type TileChanged struct {
	NewTile TileRef
	OldTile Tile
	Tick    timing.Tick
}

type GridBoundsChanged struct {
	Map       MapID
	Grid      GridID
	WorldAABB geom.Box2
}

type ChunkCollisionRegenerated struct {
	Grid     GridID
	Chunk    geom.Vec2i
	Polygons []geom.Polygon
}

type ChunkRemoved struct {
	Grid  GridID
	Chunk geom.Vec2i
	Tick  timing.Tick
}

// EmptyGrid fires when the last chunk of a grid disappears.
type EmptyGrid struct {
	Map  MapID
	Grid GridID
}

type GridCreated struct {
	Map  MapID
	Grid GridID
}

type GridRemoved struct {
	Map  MapID
	Grid GridID
}

type MapCreated struct {
	Map MapID
}

type MapDeleted struct {
	Map MapID
}
