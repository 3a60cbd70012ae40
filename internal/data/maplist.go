package data

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
)

// FillEntry paints an inclusive rectangle of tiles.
type FillEntry struct {
	From    [2]int32 `yaml:"from"`
	To      [2]int32 `yaml:"to"`
	Tile    string   `yaml:"tile"`
	Variant uint8    `yaml:"variant"`
}

// GridEntry describes a grid created at startup.
type GridEntry struct {
	ID        int32       `yaml:"id"`
	ChunkSize uint16      `yaml:"chunk_size"`
	TileSize  float64     `yaml:"tile_size"`
	Position  [2]float64  `yaml:"position"`
	Rotation  float64     `yaml:"rotation"`
	Script    string      `yaml:"script"`
	Fill      []FillEntry `yaml:"fill"`
	Default   bool        `yaml:"default"` // the map's own body
}

// MapEntry describes one map and its grids.
type MapEntry struct {
	ID    int32       `yaml:"id"`
	Name  string      `yaml:"name"`
	Grids []GridEntry `yaml:"grids"`
}

type MapList struct {
	Maps []MapEntry `yaml:"maps"`
}

// LoadMapList loads map_list.yaml.
func LoadMapList(path string) (*MapList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map list: %w", err)
	}
	return ParseMapList(raw)
}

func ParseMapList(raw []byte) (*MapList, error) {
	var l MapList
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("parse map list: %w", err)
	}
	return &l, nil
}

// ApplyDefaults fills grid entries that leave chunk or tile size unset.
func (l *MapList) ApplyDefaults(chunkSize uint16, tileSize float64) {
	for i := range l.Maps {
		for j := range l.Maps[i].Grids {
			ge := &l.Maps[i].Grids[j]
			if ge.ChunkSize == 0 {
				ge.ChunkSize = chunkSize
			}
			if ge.TileSize == 0 {
				ge.TileSize = tileSize
			}
		}
	}
}

// Generator fills a grid from a named script.
type Generator interface {
	Generate(g *mapping.Grid, script string) error
}

// Seed creates every listed map and grid on m. gen may be nil when no grid
// names a script.
func (l *MapList) Seed(m *mapping.Manager, defs *TileDefTable, gen Generator, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for _, me := range l.Maps {
		mapID, err := m.CreateMap(mapping.MapID(me.ID))
		if err != nil {
			return fmt.Errorf("seed map %q: %w", me.Name, err)
		}
		for _, ge := range me.Grids {
			if ge.ChunkSize == 0 {
				ge.ChunkSize = mapping.DefaultChunkSize
			}
			g, err := m.CreateGridWith(mapID, mapping.GridOptions{
				ID:        mapping.GridID(ge.ID),
				ChunkSize: ge.ChunkSize,
				TileSize:  ge.TileSize,
				Transform: geom.Transform{Position: geom.Vec2{ge.Position[0], ge.Position[1]}, Rotation: ge.Rotation},
			})
			if err != nil {
				return fmt.Errorf("seed map %q: %w", me.Name, err)
			}
			if err := fillGrid(g, ge.Fill, defs); err != nil {
				return fmt.Errorf("seed %s: %w", g, err)
			}
			if ge.Script != "" {
				if gen == nil {
					return fmt.Errorf("seed %s: script %q given but no generator", g, ge.Script)
				}
				if err := gen.Generate(g, ge.Script); err != nil {
					return fmt.Errorf("seed %s: %w", g, err)
				}
			}
			if ge.Default {
				if err := m.SetMapDefaultGrid(mapID, g.ID()); err != nil {
					return err
				}
			}
			log.Info("grid seeded",
				zap.String("map", me.Name),
				zap.Int32("grid", int32(g.ID())),
				zap.Int("chunks", g.ChunkCount()))
		}
	}
	return nil
}

func fillGrid(g *mapping.Grid, fills []FillEntry, defs *TileDefTable) error {
	var batch []mapping.TileUpdate
	for _, f := range fills {
		tile := mapping.EmptyTile
		if f.Tile != "" && f.Tile != "space" {
			var err error
			if tile, err = defs.Tile(f.Tile, f.Variant); err != nil {
				return err
			}
		}
		x0, x1 := min(f.From[0], f.To[0]), max(f.From[0], f.To[0])
		y0, y1 := min(f.From[1], f.To[1]), max(f.From[1], f.To[1])
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				batch = append(batch, mapping.TileUpdate{Indices: geom.V2i(x, y), Tile: tile})
			}
		}
	}
	if len(batch) > 0 {
		g.SetTiles(batch)
	}
	return nil
}
