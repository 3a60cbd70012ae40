package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/tilegrid/internal/mapping"
)

// TileDef describes one tile type.
type TileDef struct {
	ID       int32  `yaml:"id"`
	Name     string `yaml:"name"`
	Flags    uint8  `yaml:"flags"`
	Variants uint8  `yaml:"variants"` // 0 means a single look
}

// TileDefTable provides lookup of tile definitions by id and by name.
type TileDefTable struct {
	byID   map[int32]*TileDef
	byName map[string]*TileDef
}

// LoadTileDefs loads tile_defs.yaml.
func LoadTileDefs(path string) (*TileDefTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tile defs: %w", err)
	}
	return ParseTileDefs(raw)
}

func ParseTileDefs(raw []byte) (*TileDefTable, error) {
	var file struct {
		Tiles []TileDef `yaml:"tiles"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tile defs: %w", err)
	}
	t := &TileDefTable{
		byID:   make(map[int32]*TileDef, len(file.Tiles)),
		byName: make(map[string]*TileDef, len(file.Tiles)),
	}
	for i := range file.Tiles {
		d := &file.Tiles[i]
		if d.ID == mapping.EmptyTile.TypeID {
			return nil, fmt.Errorf("tile def %q: id %d is reserved for space", d.Name, d.ID)
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("tile def %q: duplicate id %d", d.Name, d.ID)
		}
		if _, dup := t.byName[d.Name]; dup {
			return nil, fmt.Errorf("tile def %d: duplicate name %q", d.ID, d.Name)
		}
		t.byID[d.ID] = d
		t.byName[d.Name] = d
	}
	return t, nil
}

// Get returns the definition for id, or nil.
func (t *TileDefTable) Get(id int32) *TileDef {
	return t.byID[id]
}

// ByName returns the definition named name, or nil.
func (t *TileDefTable) ByName(name string) *TileDef {
	return t.byName[name]
}

// Tile builds a tile of the named type with its default flags.
func (t *TileDefTable) Tile(name string, variant uint8) (mapping.Tile, error) {
	d := t.byName[name]
	if d == nil {
		return mapping.EmptyTile, fmt.Errorf("unknown tile %q", name)
	}
	if d.Variants > 0 && variant >= d.Variants {
		return mapping.EmptyTile, fmt.Errorf("tile %q has no variant %d", name, variant)
	}
	return mapping.Tile{TypeID: d.ID, Flags: d.Flags, Variant: variant}, nil
}

// Count returns the total number of definitions loaded.
func (t *TileDefTable) Count() int {
	return len(t.byID)
}
