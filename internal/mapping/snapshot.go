package mapping

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// ChunkSnapshot is one chunk's tiles in x-outer, y-inner order.
type ChunkSnapshot struct {
	X     int32  `msgpack:"x"`
	Y     int32  `msgpack:"y"`
	Tiles []Tile `msgpack:"tiles"`
}

// GridSnapshot is a self-contained copy of a grid.
type GridSnapshot struct {
	ID        GridID          `msgpack:"id"`
	Map       MapID           `msgpack:"map"`
	ChunkSize uint16          `msgpack:"chunk_size"`
	TileSize  float64         `msgpack:"tile_size"`
	Position  [2]float64      `msgpack:"pos"`
	Rotation  float64         `msgpack:"rot"`
	Tick      uint32          `msgpack:"tick"`
	Chunks    []ChunkSnapshot `msgpack:"chunks"`
}

// SnapshotFile is the on-disk container written by gridgen.
type SnapshotFile struct {
	Version int            `msgpack:"version"`
	Grids   []GridSnapshot `msgpack:"grids"`
}

// Snapshot captures the grid's tiles and placement.
func (g *Grid) Snapshot() GridSnapshot {
	t := g.Transform()
	s := GridSnapshot{
		ID:        g.id,
		Map:       g.mapID,
		ChunkSize: g.chunkSize,
		TileSize:  g.tileSize,
		Position:  [2]float64{t.Position.X(), t.Position.Y()},
		Rotation:  t.Rotation,
		Tick:      uint32(g.lastTileModified),
	}
	for c := range g.Chunks() {
		s.Chunks = append(s.Chunks, ChunkSnapshot{X: c.indices.X, Y: c.indices.Y, Tiles: c.RawTiles()})
	}
	return s
}

// Delta converts the snapshot into a full-state delta.
func (s GridSnapshot) Delta() GridDelta {
	d := GridDelta{Grid: s.ID, ChunkSize: s.ChunkSize, ToTick: timing.Tick(s.Tick)}
	for _, c := range s.Chunks {
		tiles := c.Tiles
		if tiles == nil {
			tiles = []Tile{}
		}
		d.Chunks = append(d.Chunks, ChunkDelta{Indices: geom.V2i(c.X, c.Y), Tiles: tiles})
	}
	return d
}

// LoadSnapshot recreates a grid from a snapshot on mapID. A zero s.ID
// allocates a fresh id.
func (m *Manager) LoadSnapshot(mapID MapID, s GridSnapshot) (*Grid, error) {
	g, err := m.CreateGridWith(mapID, GridOptions{
		ID:        s.ID,
		ChunkSize: s.ChunkSize,
		TileSize:  s.TileSize,
		Transform: geom.Transform{Position: geom.Vec2{s.Position[0], s.Position[1]}, Rotation: s.Rotation},
	})
	if err != nil {
		return nil, err
	}
	if err := m.ApplyDelta(g.id, s.Delta()); err != nil {
		m.DeleteGrid(g.id)
		return nil, err
	}
	return g, nil
}

func WriteSnapshotFile(w io.Writer, grids []GridSnapshot) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(SnapshotFile{Version: SnapshotVersion, Grids: grids}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

func ReadSnapshotFile(r io.Reader) ([]GridSnapshot, error) {
	var f SnapshotFile
	if err := msgpack.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if f.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d: %w", f.Version, ErrSnapshotVersion)
	}
	return f.Grids, nil
}
