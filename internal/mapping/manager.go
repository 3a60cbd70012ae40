package mapping

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/broadphase"
	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// mapData is one coordinate space and its broadphase tree over grids.
type mapData struct {
	id          MapID
	tree        *broadphase.DynamicTree[GridID]
	grids       map[GridID]struct{}
	defaultGrid GridID
}

// Manager owns maps, grids and the per-map broadphase trees. It is not safe
// for concurrent use; the simulation goroutine drives it.
type Manager struct {
	log      *zap.Logger
	clock    timing.Source
	bus      *event.Bus
	entities Entities
	fixtures FixtureSink
	margin   float64

	maps     map[MapID]*mapData
	grids    map[GridID]*Grid
	highMap  MapID
	nextGrid GridID
	retired  map[GridID]struct{} // deleted grid ids, never handed out again

	suppressTileChanged int
}

// NewManager wires a manager to its collaborators. bus may be nil for
// headless use; log may be nil.
func NewManager(clock timing.Source, entities Entities, bus *event.Bus, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log,
		clock:    clock,
		bus:      bus,
		entities: entities,
		fixtures: nopFixtures{},
		margin:   broadphase.DefaultMargin,
		maps:     make(map[MapID]*mapData),
		grids:    make(map[GridID]*Grid),
		nextGrid: 1,
		retired:  make(map[GridID]struct{}),
	}
}

// SetFixtureSink installs the physics collaborator.
func (m *Manager) SetFixtureSink(f FixtureSink) {
	if f == nil {
		f = nopFixtures{}
	}
	m.fixtures = f
}

// SetProxyMargin changes the fat AABB margin for trees created afterwards.
func (m *Manager) SetProxyMargin(margin float64) { m.margin = margin }

func (m *Manager) Clock() timing.Source { return m.clock }
func (m *Manager) Bus() *event.Bus      { return m.bus }

// CreateMap binds a map id. NullMap asks for the next id above the highest
// one seen so far.
func (m *Manager) CreateMap(id MapID) (MapID, error) {
	if id == NullMap {
		id = m.highMap + 1
	}
	if _, ok := m.maps[id]; ok {
		return NullMap, fmt.Errorf("create map %d: %w", id, ErrAlreadyExists)
	}
	if id > m.highMap {
		m.highMap = id
	}
	m.maps[id] = &mapData{
		id:    id,
		tree:  broadphase.New[GridID](m.margin),
		grids: make(map[GridID]struct{}),
	}
	m.log.Debug("map created", zap.Int32("map", int32(id)))
	event.Emit(m.bus, MapCreated{Map: id})
	return id, nil
}

// DeleteMap deletes every grid on the map, then the map.
func (m *Manager) DeleteMap(id MapID) error {
	md, ok := m.maps[id]
	if !ok {
		return fmt.Errorf("delete map %d: %w", id, ErrNoSuchMap)
	}
	for _, gid := range slices.Sorted(maps.Keys(md.grids)) {
		m.DeleteGrid(gid)
	}
	delete(m.maps, id)
	m.log.Debug("map deleted", zap.Int32("map", int32(id)))
	event.Emit(m.bus, MapDeleted{Map: id})
	return nil
}

func (m *Manager) MapExists(id MapID) bool {
	_, ok := m.maps[id]
	return ok
}

// MapIDs lists live maps in ascending order.
func (m *Manager) MapIDs() []MapID {
	return slices.Sorted(maps.Keys(m.maps))
}

// SetMapDefaultGrid registers a grid as the map's own body. Spatial lookups
// that find nothing else fall back to it.
func (m *Manager) SetMapDefaultGrid(id MapID, gid GridID) error {
	md, ok := m.maps[id]
	if !ok {
		return fmt.Errorf("set default grid on map %d: %w", id, ErrNoSuchMap)
	}
	if gid != InvalidGrid {
		g, ok := m.grids[gid]
		if !ok {
			return fmt.Errorf("set default grid %d: %w", gid, ErrNoSuchGrid)
		}
		if g.mapID != id {
			return fmt.Errorf("set default grid %d on map %d: %w", gid, id, ErrMapMismatch)
		}
	}
	md.defaultGrid = gid
	return nil
}

// MapDefaultGrid returns the map's own body, if one is registered.
func (m *Manager) MapDefaultGrid(id MapID) (*Grid, bool) {
	md, ok := m.maps[id]
	if !ok || md.defaultGrid == InvalidGrid {
		return nil, false
	}
	g, ok := m.grids[md.defaultGrid]
	return g, ok
}

// GridOptions tunes CreateGridWith. Zero values pick the defaults.
type GridOptions struct {
	// ID reuses a known id, e.g. when loading or replicating a grid.
	ID        GridID
	ChunkSize uint16
	TileSize  float64
	Transform geom.Transform
}

// CreateGrid creates an empty grid on a map. Grids created on NullMap stay
// out of every broadphase tree until moved to a real map.
func (m *Manager) CreateGrid(mapID MapID, chunkSize uint16) (*Grid, error) {
	return m.CreateGridWith(mapID, GridOptions{ChunkSize: chunkSize})
}

func (m *Manager) CreateGridWith(mapID MapID, opts GridOptions) (*Grid, error) {
	if opts.ChunkSize == 0 {
		return nil, fmt.Errorf("create grid: chunk size 0: %w", ErrInvalidChunkSize)
	}
	if opts.TileSize == 0 {
		opts.TileSize = 1
	}
	if opts.TileSize < 0 {
		return nil, fmt.Errorf("create grid: tile size %g: %w", opts.TileSize, ErrInvalidArea)
	}
	var md *mapData
	if mapID != NullMap {
		var ok bool
		if md, ok = m.maps[mapID]; !ok {
			return nil, fmt.Errorf("create grid on map %d: %w", mapID, ErrNoSuchMap)
		}
	}

	id := opts.ID
	if id == InvalidGrid {
		id = m.nextGrid
	} else if _, ok := m.grids[id]; ok {
		return nil, fmt.Errorf("create grid %d: %w", id, ErrAlreadyExists)
	} else if _, ok := m.retired[id]; ok {
		return nil, fmt.Errorf("create grid %d: %w", id, ErrGridRetired)
	}
	if id >= m.nextGrid {
		m.nextGrid = id + 1
	}

	g := &Grid{
		id:               id,
		mapID:            mapID,
		chunkSize:        opts.ChunkSize,
		tileSize:         opts.TileSize,
		host:             m,
		clock:            m.clock,
		chunks:           make(map[geom.Vec2i]*Chunk),
		lastTileModified: m.clock.CurTick(),
		proxy:            broadphase.FreeProxy,
	}
	g.entity = m.entities.Spawn(ecs.Invalid, opts.Transform)
	m.grids[id] = g

	if md != nil {
		md.grids[id] = struct{}{}
		g.proxy = md.tree.CreateProxy(g.WorldAABB(), id)
	}
	m.assertProxyState(g)

	m.log.Debug("grid created",
		zap.Int32("grid", int32(id)),
		zap.Int32("map", int32(mapID)),
		zap.Uint16("chunk_size", opts.ChunkSize))
	event.Emit(m.bus, GridCreated{Map: mapID, Grid: id})
	return g, nil
}

func (m *Manager) GetGrid(id GridID) (*Grid, bool) {
	g, ok := m.grids[id]
	return g, ok
}

func (m *Manager) GridExists(id GridID) bool {
	_, ok := m.grids[id]
	return ok
}

// GridIDs lists every grid in ascending order.
func (m *Manager) GridIDs() []GridID {
	return slices.Sorted(maps.Keys(m.grids))
}

// GridsOnMap lists a map's grids in ascending id order.
func (m *Manager) GridsOnMap(id MapID) []*Grid {
	var out []*Grid
	for _, gid := range m.GridIDs() {
		if g := m.grids[gid]; g.mapID == id {
			out = append(out, g)
		}
	}
	return out
}

// DeleteGrid removes a grid with all its chunks. Deleting a grid that is
// already gone does nothing, so racing cleanups are harmless.
func (m *Manager) DeleteGrid(id GridID) {
	g, ok := m.grids[id]
	if !ok {
		return
	}
	for _, key := range g.sortedChunkKeys() {
		c := g.chunks[key]
		c.clearCollision()
		c.owner = nil
		delete(g.chunks, key)
		m.fixtures.ClearFixtures(g.id, key)
	}
	g.localAABB = geom.Box2{}
	m.unbind(g)
	m.entities.Despawn(g.entity)
	delete(m.grids, id)
	m.retired[id] = struct{}{}

	m.log.Debug("grid deleted", zap.Int32("grid", int32(id)), zap.Int32("map", int32(g.mapID)))
	event.Emit(m.bus, GridRemoved{Map: g.mapID, Grid: id})
}

// SetGridTransform moves a grid and its broadphase proxy.
func (m *Manager) SetGridTransform(id GridID, t geom.Transform) error {
	g, ok := m.grids[id]
	if !ok {
		return fmt.Errorf("move grid %d: %w", id, ErrNoSuchGrid)
	}
	m.entities.SetTransform(g.entity, t)
	m.gridBoundsChanged(g)
	return nil
}

// MoveGridToMap rebinds a grid. Moving to NullMap frees its proxy; moving
// from NullMap binds one.
func (m *Manager) MoveGridToMap(id GridID, mapID MapID) error {
	g, ok := m.grids[id]
	if !ok {
		return fmt.Errorf("move grid %d: %w", id, ErrNoSuchGrid)
	}
	if g.mapID == mapID {
		return nil
	}
	var dst *mapData
	if mapID != NullMap {
		if dst, ok = m.maps[mapID]; !ok {
			return fmt.Errorf("move grid %d to map %d: %w", id, mapID, ErrNoSuchMap)
		}
	}
	old := g.mapID
	m.unbind(g)
	g.mapID = mapID
	if dst != nil {
		dst.grids[id] = struct{}{}
		g.proxy = dst.tree.CreateProxy(g.WorldAABB(), id)
	}
	m.assertProxyState(g)
	m.log.Debug("grid moved",
		zap.Int32("grid", int32(id)),
		zap.Int32("from", int32(old)),
		zap.Int32("to", int32(mapID)))
	return nil
}

// unbind takes the grid off its map's tree and bookkeeping.
func (m *Manager) unbind(g *Grid) {
	md, ok := m.maps[g.mapID]
	if !ok {
		g.proxy = broadphase.FreeProxy
		return
	}
	if g.proxy != broadphase.FreeProxy {
		md.tree.DestroyProxy(g.proxy)
		g.proxy = broadphase.FreeProxy
	}
	delete(md.grids, g.id)
	if md.defaultGrid == g.id {
		md.defaultGrid = InvalidGrid
	}
}

// assertProxyState panics if a detached grid still holds a proxy.
func (m *Manager) assertProxyState(g *Grid) {
	if g.mapID == NullMap && g.proxy != broadphase.FreeProxy {
		panic(fmt.Sprintf("mapping: %s on the null map holds proxy %d", g, g.proxy))
	}
	if g.mapID != NullMap && g.proxy == broadphase.FreeProxy {
		panic(fmt.Sprintf("mapping: %s is not in its map's broadphase", g))
	}
}

// SuppressTileChanged mutes TileChanged events until release is called.
// Guards nest.
func (m *Manager) SuppressTileChanged() (release func()) {
	m.suppressTileChanged++
	done := false
	return func() {
		if done {
			return
		}
		done = true
		m.suppressTileChanged--
	}
}

// CullDeletionHistory drops chunk removals older than tick from every grid.
func (m *Manager) CullDeletionHistory(tick timing.Tick) int {
	n := 0
	for _, g := range m.grids {
		n += g.CullDeletionHistory(tick)
	}
	return n
}

// gridHost

func (m *Manager) gridTransform(g *Grid) geom.Transform {
	return m.entities.TransformOf(g.entity)
}

func (m *Manager) entityView() Entities { return m.entities }

func (m *Manager) tileChanged(g *Grid, ref TileRef, old Tile) {
	if m.suppressTileChanged > 0 {
		return
	}
	event.Emit(m.bus, TileChanged{NewTile: ref, OldTile: old, Tick: m.clock.CurTick()})
}

func (m *Manager) chunkRegenerated(g *Grid, c *Chunk) {
	polys := g.ChunkLocalPolygons(c)
	m.fixtures.RegisterFixtures(g.id, c.indices, polys)
	event.Emit(m.bus, ChunkCollisionRegenerated{Grid: g.id, Chunk: c.indices, Polygons: polys})
}

func (m *Manager) chunkRemoved(g *Grid, c *Chunk) {
	m.fixtures.ClearFixtures(g.id, c.indices)
	event.Emit(m.bus, ChunkRemoved{Grid: g.id, Chunk: c.indices, Tick: m.clock.CurTick()})
}

func (m *Manager) gridBoundsChanged(g *Grid) {
	aabb := g.WorldAABB()
	if md, ok := m.maps[g.mapID]; ok && g.proxy != broadphase.FreeProxy {
		md.tree.MoveProxy(g.proxy, aabb)
	}
	m.assertProxyState(g)
	event.Emit(m.bus, GridBoundsChanged{Map: g.mapID, Grid: g.id, WorldAABB: aabb})
}

func (m *Manager) gridEmptied(g *Grid) {
	m.log.Debug("grid emptied", zap.Int32("grid", int32(g.id)))
	event.Emit(m.bus, EmptyGrid{Map: g.mapID, Grid: g.id})
}
