// Package mapping holds the tile grid engine: sparse chunked grids, the
// partitioner that turns tile occupancy into convex collision polygons, the
// manager that owns maps, grids and their broadphase trees, and tick-stamped
// delta sync.
package mapping

import (
	"fmt"

	"github.com/l1jgo/tilegrid/internal/geom"
)

// MapID names an independent coordinate space.
type MapID int32

// NullMap holds detached grids. It never takes part in spatial queries.
const NullMap MapID = 0

// GridID is allocated monotonically and never reused within a process.
type GridID int32

const InvalidGrid GridID = 0

// Tile is one cell of occupancy. TypeID 0 is space.
type Tile struct {
	TypeID  int32 `msgpack:"t"`
	Flags   uint8 `msgpack:"f"`
	Variant uint8 `msgpack:"v"`
}

// EmptyTile is space.
var EmptyTile = Tile{}

func NewTile(typeID int32) Tile { return Tile{TypeID: typeID} }

func (t Tile) IsEmpty() bool { return t.TypeID == 0 }

func (t Tile) String() string {
	return fmt.Sprintf("Tile(%d, %d, %d)", t.TypeID, t.Flags, t.Variant)
}

// TileRef is a snapshot of a tile at a grid position. It is rebuilt on every
// query and never updated in place.
type TileRef struct {
	MapID   MapID
	GridID  GridID
	Indices geom.Vec2i
	Tile    Tile
}

func (r TileRef) String() string {
	return fmt.Sprintf("TileRef(map %d, grid %d, %s, %s)", r.MapID, r.GridID, r.Indices, r.Tile)
}

// MapCoordinates is a world position qualified by its map.
type MapCoordinates struct {
	Map MapID
	Pos geom.Vec2
}

// TileUpdate is one entry of a batched tile write.
type TileUpdate struct {
	Indices geom.Vec2i
	Tile    Tile
}

// Direction is an 8-way compass heading used by the anchored-entity helpers.
type Direction uint8

const (
	South Direction = iota
	SouthEast
	East
	NorthEast
	North
	NorthWest
	West
	SouthWest
)

var directionDeltas = [8]geom.Vec2i{
	{X: 0, Y: -1},
	{X: 1, Y: -1},
	{X: 1, Y: 0},
	{X: 1, Y: 1},
	{X: 0, Y: 1},
	{X: -1, Y: 1},
	{X: -1, Y: 0},
	{X: -1, Y: -1},
}

// Offset returns the tile delta of d scaled by dist.
func (d Direction) Offset(dist int32) geom.Vec2i {
	return directionDeltas[d%8].Mul(dist)
}

// Step moves pos dist tiles in direction d.
func Step(pos geom.Vec2i, d Direction, dist int32) geom.Vec2i {
	return pos.Add(d.Offset(dist))
}
