package physics

import (
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
)

// Fixture is one convex collision shape of a grid chunk, in grid-local space.
type Fixture struct {
	ID      string
	Grid    mapping.GridID
	Chunk   geom.Vec2i
	Polygon geom.Polygon
	Bounds  geom.Box2
}

// FixtureID names the n-th fixture of a chunk.
func FixtureID(chunk geom.Vec2i, n int) string {
	return fmt.Sprintf("grid_chunk-%d-%d-%d", chunk.X, chunk.Y, n)
}

type chunkKey struct {
	grid  mapping.GridID
	chunk geom.Vec2i
}

// FixtureStore keeps the fixtures the grid manager hands out. It is not
// safe for concurrent use; like the grid manager it belongs to the tick
// goroutine.
type FixtureStore struct {
	chunks map[chunkKey][]Fixture
	count  int
	log    *zap.Logger
}

func NewFixtureStore(log *zap.Logger) *FixtureStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FixtureStore{chunks: make(map[chunkKey][]Fixture), log: log}
}

// RegisterFixtures replaces the fixtures of a chunk.
func (s *FixtureStore) RegisterFixtures(grid mapping.GridID, chunk geom.Vec2i, polygons []geom.Polygon) {
	key := chunkKey{grid, chunk}
	s.count -= len(s.chunks[key])
	if len(polygons) == 0 {
		delete(s.chunks, key)
		return
	}
	fs := make([]Fixture, len(polygons))
	for i, p := range polygons {
		fs[i] = Fixture{
			ID:      FixtureID(chunk, i),
			Grid:    grid,
			Chunk:   chunk,
			Polygon: p,
			Bounds:  p.Bounds(),
		}
	}
	s.chunks[key] = fs
	s.count += len(fs)
	s.log.Debug("fixtures registered",
		zap.Int32("grid", int32(grid)),
		zap.Stringer("chunk", chunk),
		zap.Int("count", len(fs)))
}

func (s *FixtureStore) ClearFixtures(grid mapping.GridID, chunk geom.Vec2i) {
	key := chunkKey{grid, chunk}
	s.count -= len(s.chunks[key])
	delete(s.chunks, key)
}

// Count is the total number of live fixtures.
func (s *FixtureStore) Count() int { return s.count }

// ChunkFixtures returns the fixtures of one chunk.
func (s *FixtureStore) ChunkFixtures(grid mapping.GridID, chunk geom.Vec2i) []Fixture {
	return s.chunks[chunkKey{grid, chunk}]
}

// GridFixtures yields every fixture of a grid, chunks in index order.
func (s *FixtureStore) GridFixtures(grid mapping.GridID) iter.Seq[Fixture] {
	return func(yield func(Fixture) bool) {
		var keys []geom.Vec2i
		for k := range s.chunks {
			if k.grid == grid {
				keys = append(keys, k.chunk)
			}
		}
		slices.SortFunc(keys, func(a, b geom.Vec2i) int {
			switch {
			case a.Less(b):
				return -1
			case b.Less(a):
				return 1
			}
			return 0
		})
		for _, k := range keys {
			for _, f := range s.chunks[chunkKey{grid, k}] {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Lookup finds a fixture by id.
func (s *FixtureStore) Lookup(grid mapping.GridID, id string) (Fixture, bool) {
	for f := range s.GridFixtures(grid) {
		if f.ID == id {
			return f, true
		}
	}
	return Fixture{}, false
}

// Overlapping yields the fixtures of a grid whose polygon touches a
// grid-local polygon.
func (s *FixtureStore) Overlapping(grid mapping.GridID, shape geom.Polygon) iter.Seq[Fixture] {
	bounds := shape.Bounds()
	return func(yield func(Fixture) bool) {
		for f := range s.GridFixtures(grid) {
			if !f.Bounds.Intersects(bounds) || !f.Polygon.Intersects(shape) {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

// PointCollides reports whether a grid-local point lies inside any fixture.
func (s *FixtureStore) PointCollides(grid mapping.GridID, local geom.Vec2) bool {
	for f := range s.GridFixtures(grid) {
		if f.Bounds.Contains(local) && f.Polygon.ContainsPoint(local) {
			return true
		}
	}
	return false
}
