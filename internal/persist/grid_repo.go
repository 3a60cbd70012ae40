package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
)

// GridRow is a grid's placement as stored.
type GridRow struct {
	ID        mapping.GridID
	Map       mapping.MapID
	ChunkSize uint16
	TileSize  float64
	Transform geom.Transform
	LastTick  uint32
}

type chunkRow struct {
	X, Y  int32
	Tiles []byte
}

type GridRepo struct {
	db *DB
}

func NewGridRepo(db *DB) *GridRepo {
	return &GridRepo{db: db}
}

// EncodeTiles packs a chunk's tiles into the blob stored per chunk row.
func EncodeTiles(tiles []mapping.Tile) ([]byte, error) {
	b, err := msgpack.Marshal(tiles)
	if err != nil {
		return nil, fmt.Errorf("encode tiles: %w", err)
	}
	return b, nil
}

// DecodeTiles reverses EncodeTiles and checks the tile count.
func DecodeTiles(b []byte, chunkSize uint16) ([]mapping.Tile, error) {
	var tiles []mapping.Tile
	if err := msgpack.Unmarshal(b, &tiles); err != nil {
		return nil, fmt.Errorf("decode tiles: %w", err)
	}
	if want := int(chunkSize) * int(chunkSize); len(tiles) != want {
		return nil, fmt.Errorf("decode tiles: got %d, want %d: %w", len(tiles), want, mapping.ErrMalformedDelta)
	}
	return tiles, nil
}

// splitDelta separates a delta into chunk rows to upsert and chunk indices
// to delete.
func splitDelta(d mapping.GridDelta) (upserts []chunkRow, deletes []geom.Vec2i, err error) {
	for _, c := range d.Chunks {
		if c.Deleted() {
			deletes = append(deletes, c.Indices)
			continue
		}
		b, err := EncodeTiles(c.Tiles)
		if err != nil {
			return nil, nil, err
		}
		upserts = append(upserts, chunkRow{X: c.Indices.X, Y: c.Indices.Y, Tiles: b})
	}
	return upserts, deletes, nil
}

// SaveDelta writes a grid's placement and changed chunks in a single
// transaction. Deleted chunks are removed before upserts, matching the
// order receivers apply deltas in.
func (r *GridRepo) SaveDelta(ctx context.Context, g GridRow, d mapping.GridDelta) error {
	upserts, deletes, err := splitDelta(d)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save grid %d begin: %w", g.ID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO grids (id, map_id, chunk_size, tile_size, pos_x, pos_y, rotation, last_tick)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET map_id = $2, tile_size = $4, pos_x = $5, pos_y = $6,
		 rotation = $7, last_tick = $8`,
		int32(g.ID), int32(g.Map), int16(g.ChunkSize), g.TileSize,
		g.Transform.Position.X(), g.Transform.Position.Y(), g.Transform.Rotation, int64(g.LastTick),
	); err != nil {
		return fmt.Errorf("save grid %d: %w", g.ID, err)
	}

	batch := &pgx.Batch{}
	for _, idx := range deletes {
		batch.Queue(`DELETE FROM grid_chunks WHERE grid_id = $1 AND cx = $2 AND cy = $3`,
			int32(g.ID), idx.X, idx.Y)
	}
	for _, c := range upserts {
		batch.Queue(
			`INSERT INTO grid_chunks (grid_id, cx, cy, tiles, tick) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (grid_id, cx, cy) DO UPDATE SET tiles = $4, tick = $5`,
			int32(g.ID), c.X, c.Y, c.Tiles, int64(d.ToTick))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save grid %d chunks: %w", g.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteGrid removes a grid and, by cascade, its chunks.
func (r *GridRepo) DeleteGrid(ctx context.Context, id mapping.GridID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM grids WHERE id = $1`, int32(id))
	return err
}

// SaveMap records a map and its default grid.
func (r *GridRepo) SaveMap(ctx context.Context, id mapping.MapID, defaultGrid mapping.GridID) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO maps (id, default_grid) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET default_grid = $2`,
		int32(id), int32(defaultGrid),
	)
	return err
}

// MapRow is a stored map.
type MapRow struct {
	ID          mapping.MapID
	DefaultGrid mapping.GridID
}

func (r *GridRepo) LoadMaps(ctx context.Context) ([]MapRow, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, default_grid FROM maps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MapRow
	for rows.Next() {
		var id, def int32
		if err := rows.Scan(&id, &def); err != nil {
			return nil, err
		}
		result = append(result, MapRow{ID: mapping.MapID(id), DefaultGrid: mapping.GridID(def)})
	}
	return result, rows.Err()
}

// LoadGrids returns every stored grid as a snapshot, in id order.
func (r *GridRepo) LoadGrids(ctx context.Context) ([]mapping.GridSnapshot, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, map_id, chunk_size, tile_size, pos_x, pos_y, rotation, last_tick
		 FROM grids ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []mapping.GridSnapshot
	index := make(map[mapping.GridID]int)
	for rows.Next() {
		var (
			id, mapID int32
			chunkSize int16
			lastTick  int64
			s         mapping.GridSnapshot
		)
		if err := rows.Scan(&id, &mapID, &chunkSize, &s.TileSize,
			&s.Position[0], &s.Position[1], &s.Rotation, &lastTick); err != nil {
			return nil, err
		}
		s.ID = mapping.GridID(id)
		s.Map = mapping.MapID(mapID)
		s.ChunkSize = uint16(chunkSize)
		s.Tick = uint32(lastTick)
		index[s.ID] = len(result)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunks, err := r.db.Pool.Query(ctx, `SELECT grid_id, cx, cy, tiles FROM grid_chunks ORDER BY grid_id, cx, cy`)
	if err != nil {
		return nil, err
	}
	defer chunks.Close()
	for chunks.Next() {
		var (
			gid, x, y int32
			blob      []byte
		)
		if err := chunks.Scan(&gid, &x, &y, &blob); err != nil {
			return nil, err
		}
		i, ok := index[mapping.GridID(gid)]
		if !ok {
			continue
		}
		tiles, err := DecodeTiles(blob, result[i].ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("grid %d chunk (%d, %d): %w", gid, x, y, err)
		}
		result[i].Chunks = append(result[i].Chunks, mapping.ChunkSnapshot{X: x, Y: y, Tiles: tiles})
	}
	return result, chunks.Err()
}
