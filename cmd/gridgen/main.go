// gridgen runs a Lua grid generator and writes the result as a snapshot
// file that gridd can seed from.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/data"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/scripting"
	"github.com/l1jgo/tilegrid/internal/world"
)

func main() {
	var (
		defsPath  = flag.String("defs", "data/yaml/tile_defs.yaml", "tile definitions")
		script    = flag.String("script", "", "generator script file")
		name      = flag.String("gen", "", "generator name registered by the script")
		out       = flag.String("out", "grid.snap", "output snapshot file")
		mapID     = flag.Int("map", 1, "map the grid belongs to")
		gridID    = flag.Int("id", 1, "grid id")
		chunkSize = flag.Uint("chunk", uint(mapping.DefaultChunkSize), "chunk size")
		tileSize  = flag.Float64("tile", 1, "tile size in world units")
		x         = flag.Float64("x", 0, "grid position x")
		y         = flag.Float64("y", 0, "grid position y")
		rot       = flag.Float64("rot", 0, "grid rotation in radians")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	if *script == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: gridgen -script <file.lua> -gen <name> [-out grid.snap]")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	defs, err := data.LoadTileDefs(*defsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	engine, err := scripting.NewEngine("", defs, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.LoadFile(*script); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	m := mapping.NewManager(timing.NewClock(1), world.NewEntities(), nil, log)
	if _, err := m.CreateMap(mapping.MapID(*mapID)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	g, err := m.CreateGridWith(mapping.MapID(*mapID), mapping.GridOptions{
		ID:        mapping.GridID(*gridID),
		ChunkSize: uint16(*chunkSize),
		TileSize:  *tileSize,
		Transform: geom.Transform{Position: geom.Vec2{*x, *y}, Rotation: *rot},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := engine.Generate(g, *name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := mapping.WriteSnapshotFile(f, []mapping.GridSnapshot{g.Snapshot()}); err != nil {
		f.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	tiles := 0
	for range g.AllTiles(true) {
		tiles++
	}
	fmt.Printf("Wrote %s: grid %d, %d chunks, %d tiles, bounds %s\n", *out, g.ID(), g.ChunkCount(), tiles, g.LocalAABB())
}
