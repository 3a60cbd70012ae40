package persist

import (
	"context"
	"fmt"

	"github.com/l1jgo/tilegrid/internal/mapping"
)

// JournalEntry is one recorded tile change.
type JournalEntry struct {
	Grid    mapping.GridID
	X, Y    int32
	OldType int32
	New     mapping.Tile
	Tick    uint32
}

// JournalFromEvent converts a TileChanged event into a journal entry.
func JournalFromEvent(e mapping.TileChanged) JournalEntry {
	return JournalEntry{
		Grid:    e.NewTile.GridID,
		X:       e.NewTile.Indices.X,
		Y:       e.NewTile.Indices.Y,
		OldType: e.OldTile.TypeID,
		New:     e.NewTile.Tile,
		Tick:    uint32(e.Tick),
	}
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Write atomically appends a batch of entries in a single transaction.
func (r *JournalRepo) Write(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tile_journal (grid_id, x, y, old_type, new_type, new_flags, new_variant, tick)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			int32(e.Grid), e.X, e.Y, e.OldType, e.New.TypeID, int16(e.New.Flags), int16(e.New.Variant), int64(e.Tick),
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkProcessed marks all entries as covered by a chunk save.
func (r *JournalRepo) MarkProcessed(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE tile_journal SET processed = TRUE WHERE processed = FALSE`,
	)
	return err
}
