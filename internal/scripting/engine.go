package scripting

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/data"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
)

var ErrNoGenerator = errors.New("scripting: no such generator")

// Engine wraps a single gopher-lua VM running grid generators.
// Single-goroutine access only (tick loop or gridgen).
type Engine struct {
	vm         *lua.LState
	defs       *data.TileDefTable
	generators map[string]*lua.LFunction
	run        *generation // set while a generator runs
	log        *zap.Logger
}

// generation collects the writes of one generator call. Writes are
// committed in one batch so each touched chunk is partitioned once.
type generation struct {
	grid    *mapping.Grid
	pending map[geom.Vec2i]mapping.Tile
	order   []geom.Vec2i
	rng     *rand.Rand
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory: shared helpers in lib/ first, then generators/. An empty
// scriptsDir loads nothing.
func NewEngine(scriptsDir string, defs *data.TileDefTable, log *zap.Logger) (*Engine, error) {
	e := newEngine(defs, log)
	if scriptsDir == "" {
		return e, nil
	}
	for _, sub := range []string{"lib", "generators"} {
		if err := e.loadDir(filepath.Join(scriptsDir, sub)); err != nil {
			e.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

func newEngine(defs *data.TileDefTable, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:         vm,
		defs:       defs,
		generators: make(map[string]*lua.LFunction),
		log:        log,
	}
	vm.SetGlobal("register_generator", vm.NewFunction(e.luaRegisterGenerator))
	vm.SetGlobal("tile_id", vm.NewFunction(e.luaTileID))
	vm.SetGlobal("set_tile", vm.NewFunction(e.luaSetTile))
	vm.SetGlobal("get_tile", vm.NewFunction(e.luaGetTile))
	vm.SetGlobal("rand", vm.NewFunction(e.luaRand))
	return e
}

// loadDir loads all .lua files in a directory in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		if err := e.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile runs one script file.
func (e *Engine) LoadFile(path string) error {
	if err := e.vm.DoFile(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	e.log.Debug("loaded lua script", zap.String("file", path))
	return nil
}

// LoadString runs script source.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	return nil
}

// Generators lists registered generator names.
func (e *Engine) Generators() []string {
	names := make([]string, 0, len(e.generators))
	for n := range e.generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Generate runs the named generator against g. The generator receives a
// table with the grid's id and chunk size. Its writes are applied with a
// single Grid.SetTiles call once it returns; a failing generator writes
// nothing.
func (e *Engine) Generate(g *mapping.Grid, name string) error {
	fn, ok := e.generators[name]
	if !ok {
		return fmt.Errorf("generate %q: %w", name, ErrNoGenerator)
	}
	run := &generation{
		grid:    g,
		pending: make(map[geom.Vec2i]mapping.Tile),
		rng:     rand.New(rand.NewPCG(uint64(g.ID()), 0x9e3779b97f4a7c15)),
	}
	e.run = run
	defer func() { e.run = nil }()

	info := e.vm.NewTable()
	info.RawSetString("id", lua.LNumber(g.ID()))
	info.RawSetString("chunk_size", lua.LNumber(g.ChunkSize()))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, info); err != nil {
		return fmt.Errorf("generate %q: %w", name, err)
	}

	updates := make([]mapping.TileUpdate, 0, len(run.order))
	for _, idx := range run.order {
		updates = append(updates, mapping.TileUpdate{Indices: idx, Tile: run.pending[idx]})
	}
	g.SetTiles(updates)

	e.log.Debug("generator finished",
		zap.String("generator", name),
		zap.Int32("grid", int32(g.ID())),
		zap.Int("tiles", len(updates)))
	return nil
}

// register_generator(name, fn)
func (e *Engine) luaRegisterGenerator(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.generators[name] = fn
	return 0
}

// tile_id(name) -> id
func (e *Engine) luaTileID(L *lua.LState) int {
	name := L.CheckString(1)
	if name == "space" {
		L.Push(lua.LNumber(mapping.EmptyTile.TypeID))
		return 1
	}
	d := e.defs.ByName(name)
	if d == nil {
		L.RaiseError("unknown tile %q", name)
		return 0
	}
	L.Push(lua.LNumber(d.ID))
	return 1
}

// set_tile(x, y, id_or_name [, variant])
func (e *Engine) luaSetTile(L *lua.LState) int {
	run := e.active(L)
	idx := geom.V2i(int32(L.CheckInt(1)), int32(L.CheckInt(2)))
	variant := uint8(L.OptInt(4, 0))

	var tile mapping.Tile
	switch v := L.Get(3).(type) {
	case lua.LNumber:
		tile = mapping.Tile{TypeID: int32(v), Variant: variant}
		if d := e.defs.Get(tile.TypeID); d != nil {
			tile.Flags = d.Flags
		} else if !tile.IsEmpty() {
			L.RaiseError("unknown tile id %d", tile.TypeID)
			return 0
		}
	case lua.LString:
		if string(v) != "space" {
			t, err := e.defs.Tile(string(v), variant)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			tile = t
		}
	default:
		L.ArgError(3, "tile id or name expected")
		return 0
	}

	if _, seen := run.pending[idx]; !seen {
		run.order = append(run.order, idx)
	}
	run.pending[idx] = tile
	return 0
}

// get_tile(x, y) -> id, sees writes made earlier in the same run
func (e *Engine) luaGetTile(L *lua.LState) int {
	run := e.active(L)
	idx := geom.V2i(int32(L.CheckInt(1)), int32(L.CheckInt(2)))
	if t, ok := run.pending[idx]; ok {
		L.Push(lua.LNumber(t.TypeID))
		return 1
	}
	L.Push(lua.LNumber(run.grid.GetTileRef(idx).Tile.TypeID))
	return 1
}

// rand(lo, hi) -> integer in [lo, hi], seeded per grid
func (e *Engine) luaRand(L *lua.LState) int {
	run := e.active(L)
	lo, hi := L.CheckInt(1), L.CheckInt(2)
	if hi < lo {
		L.ArgError(2, "hi must not be below lo")
		return 0
	}
	L.Push(lua.LNumber(lo + run.rng.IntN(hi-lo+1)))
	return 1
}

func (e *Engine) active(L *lua.LState) *generation {
	if e.run == nil {
		L.RaiseError("grid functions are only available inside a generator")
	}
	return e.run
}

// Close releases the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
