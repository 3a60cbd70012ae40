package scripting

import (
	"errors"
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/data"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/world"
)

const defsYAML = `
tiles:
  - id: 1
    name: plating
  - id: 2
    name: wall
    flags: 4
`

func newTestEngine(t *testing.T) (*Engine, *mapping.Grid, *event.Bus) {
	t.Helper()
	defs, err := data.ParseTileDefs([]byte(defsYAML))
	if err != nil {
		t.Fatalf("defs: %v", err)
	}
	e := newEngine(defs, nil)
	t.Cleanup(e.Close)

	bus := event.NewBus()
	m := mapping.NewManager(timing.NewClock(1), world.NewEntities(), bus, nil)
	mapID, _ := m.CreateMap(mapping.NullMap)
	g, err := m.CreateGrid(mapID, mapping.DefaultChunkSize)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	bus.Discard()
	return e, g, bus
}

func TestGeneratorWritesTiles(t *testing.T) {
	e, g, bus := newTestEngine(t)
	err := e.LoadString(`
register_generator("room", function(grid)
  for x = 0, 4 do
    for y = 0, 4 do
      if x == 0 or y == 0 or x == 4 or y == 4 then
        set_tile(x, y, "wall")
      else
        set_tile(x, y, tile_id("plating"))
      end
    end
  end
  set_tile(2, 2, "space")
  if get_tile(0, 0) ~= tile_id("wall") then error("read back failed") end
end)
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	regens := 0
	event.Subscribe(bus, func(mapping.ChunkCollisionRegenerated) { regens++ })

	if err := e.Generate(g, "room"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	bus.Flush()

	if ref := g.GetTileRef(geom.V2i(0, 3)); ref.Tile != (mapping.Tile{TypeID: 2, Flags: 4}) {
		t.Fatalf("expected wall with def flags, got %s", ref.Tile)
	}
	if ref := g.GetTileRef(geom.V2i(1, 1)); ref.Tile.TypeID != 1 {
		t.Fatalf("expected plating, got %s", ref.Tile)
	}
	if !g.GetTileRef(geom.V2i(2, 2)).Tile.IsEmpty() {
		t.Fatalf("expected the later space write to win")
	}
	if regens != 1 {
		t.Fatalf("expected one regeneration for the batch, got %d", regens)
	}
}

func TestFailingGeneratorWritesNothing(t *testing.T) {
	e, g, _ := newTestEngine(t)
	e.LoadString(`
register_generator("bad", function(grid)
  set_tile(0, 0, "plating")
  set_tile(1, 0, "lava")
end)
`)
	if err := e.Generate(g, "bad"); err == nil {
		t.Fatalf("expected unknown tile to fail")
	}
	if g.ChunkCount() != 0 {
		t.Fatalf("expected no writes, got %d chunks", g.ChunkCount())
	}
	if err := e.Generate(g, "missing"); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("expected ErrNoGenerator, got %v", err)
	}
}

func TestRandIsSeededByGrid(t *testing.T) {
	e, g, _ := newTestEngine(t)
	e.LoadString(`
register_generator("noise", function(grid)
  for x = 0, 31 do
    if rand(0, 1) == 1 then set_tile(x, 0, "plating") end
  end
end)
`)
	if err := e.Generate(g, "noise"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	first := make(map[geom.Vec2i]bool)
	for r := range g.AllTiles(true) {
		first[r.Indices] = true
	}

	e2, g2, _ := newTestEngine(t)
	e2.LoadString(`
register_generator("noise", function(grid)
  for x = 0, 31 do
    if rand(0, 1) == 1 then set_tile(x, 0, "plating") end
  end
end)
`)
	e2.Generate(g2, "noise")
	n := 0
	for r := range g2.AllTiles(true) {
		if !first[r.Indices] {
			t.Fatalf("expected identical output for identical grid ids")
		}
		n++
	}
	if n != len(first) {
		t.Fatalf("expected %d tiles, got %d", len(first), n)
	}
}

func TestGridFunctionsOutsideGenerator(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.LoadString(`set_tile(0, 0, 1)`); err == nil {
		t.Fatalf("expected set_tile outside a generator to fail")
	}
	if err := e.LoadString(`assert(tile_id("wall") == 2)`); err != nil {
		t.Fatalf("expected tile_id to work anywhere, got %v", err)
	}
}
