package mapping

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// ChunkDelta carries a full chunk, or a deletion when Tiles is nil.
type ChunkDelta struct {
	Indices geom.Vec2i
	Tiles   []Tile
}

func (d ChunkDelta) Deleted() bool { return d.Tiles == nil }

// GridDelta is everything a grid changed in [FromTick, ToTick]. Deletions
// come first so a chunk removed and recreated inside the window ends up
// present on the receiver.
type GridDelta struct {
	Grid      GridID
	ChunkSize uint16
	FromTick  timing.Tick
	ToTick    timing.Tick
	Chunks    []ChunkDelta
}

func (d GridDelta) Empty() bool { return len(d.Chunks) == 0 }

// GetDeltaSince returns the chunks modified at or after tick, plus retained
// deletions at or after tick.
func (g *Grid) GetDeltaSince(tick timing.Tick) GridDelta {
	d := GridDelta{
		Grid:      g.id,
		ChunkSize: g.chunkSize,
		FromTick:  tick,
		ToTick:    g.clock.CurTick(),
	}
	if g.lastTileModified < tick {
		return d
	}
	for _, del := range g.deletions {
		if del.Tick >= tick {
			d.Chunks = append(d.Chunks, ChunkDelta{Indices: del.Indices})
		}
	}
	for c := range g.Chunks() {
		if c.lastTileModified >= tick {
			d.Chunks = append(d.Chunks, ChunkDelta{Indices: c.indices, Tiles: c.RawTiles()})
		}
	}
	return d
}

// FullState returns every live chunk, suitable for a fresh receiver.
func (g *Grid) FullState() GridDelta {
	d := GridDelta{
		Grid:      g.id,
		ChunkSize: g.chunkSize,
		ToTick:    g.clock.CurTick(),
	}
	for c := range g.Chunks() {
		d.Chunks = append(d.Chunks, ChunkDelta{Indices: c.indices, Tiles: c.RawTiles()})
	}
	return d
}

// DeltasSince collects non-empty deltas of every grid in id order.
func (m *Manager) DeltasSince(tick timing.Tick) []GridDelta {
	var out []GridDelta
	for _, id := range m.GridIDs() {
		if d := m.grids[id].GetDeltaSince(tick); !d.Empty() {
			out = append(out, d)
		}
	}
	return out
}

// ApplyDelta writes a delta into an existing grid. TileChanged events are
// muted for the duration, unchanged cells are skipped and each touched chunk
// is regenerated exactly once at the end. The delta is validated before
// anything is written.
func (m *Manager) ApplyDelta(id GridID, d GridDelta) error {
	g, ok := m.grids[id]
	if !ok {
		return fmt.Errorf("apply delta to grid %d: %w", id, ErrNoSuchGrid)
	}
	if d.ChunkSize != g.chunkSize {
		return fmt.Errorf("apply delta to %s: got %d, want %d: %w", g, d.ChunkSize, g.chunkSize, ErrChunkSizeMismatch)
	}
	want := int(g.chunkSize) * int(g.chunkSize)
	for _, cd := range d.Chunks {
		if !cd.Deleted() && len(cd.Tiles) != want {
			return fmt.Errorf("apply delta to %s: chunk %s has %d tiles, want %d: %w",
				g, cd.Indices, len(cd.Tiles), want, ErrMalformedDelta)
		}
	}

	release := m.SuppressTileChanged()
	defer release()

	empty := make([]Tile, want)
	touched := make(map[geom.Vec2i]*Chunk)
	for _, cd := range d.Chunks {
		if cd.Deleted() {
			c, ok := g.chunks[cd.Indices]
			if !ok {
				continue
			}
			if c.loadTiles(empty) {
				touched[cd.Indices] = c
			}
			continue
		}
		_, existed := g.chunks[cd.Indices]
		c := g.getOrAddChunk(cd.Indices)
		if c.loadTiles(cd.Tiles) || !existed {
			touched[cd.Indices] = c
		}
	}
	if len(touched) == 0 {
		return nil
	}

	g.lastTileModified = m.clock.CurTick()
	chunks := make([]*Chunk, 0, len(touched))
	for _, c := range touched {
		chunks = append(chunks, c)
	}
	slices.SortFunc(chunks, func(a, b *Chunk) int { return compareIndices(a.indices, b.indices) })
	g.RegenerateCollision(chunks)

	m.log.Debug("delta applied",
		zap.Int32("grid", int32(id)),
		zap.Int("chunks", len(chunks)),
		zap.Uint32("to_tick", uint32(d.ToTick)))
	return nil
}
