package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/core/event"
	coresys "github.com/l1jgo/tilegrid/internal/core/system"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/persist"
)

// GridStore is the storage the persistence system saves grids to.
type GridStore interface {
	SaveDelta(ctx context.Context, g persist.GridRow, d mapping.GridDelta) error
	DeleteGrid(ctx context.Context, id mapping.GridID) error
}

// TileJournal records individual tile edits between grid saves.
type TileJournal interface {
	Write(ctx context.Context, entries []persist.JournalEntry) error
	MarkProcessed(ctx context.Context) error
}

// PersistenceSystem journals tile edits every tick and saves changed grids
// every N ticks. Phase 5 (Persist).
type PersistenceSystem struct {
	m        *mapping.Manager
	store    GridStore
	journal  TileJournal
	log      *zap.Logger
	interval int // save every N ticks

	tickCount int
	saved     map[mapping.GridID]persist.GridRow
	since     timing.Tick // next tick to pull deltas from
	entries   []persist.JournalEntry
	removed   []mapping.GridID
}

func NewPersistenceSystem(m *mapping.Manager, store GridStore, journal TileJournal, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	s := &PersistenceSystem{
		m:        m,
		store:    store,
		journal:  journal,
		log:      log,
		interval: max(intervalTicks, 1),
		saved:    make(map[mapping.GridID]persist.GridRow),
	}
	event.Subscribe(m.Bus(), func(e mapping.TileChanged) {
		s.entries = append(s.entries, persist.JournalFromEvent(e))
	})
	event.Subscribe(m.Bus(), func(e mapping.GridRemoved) {
		s.removed = append(s.removed, e.Grid)
	})
	return s
}

// MarkSaved records grids that are already stored as they are, e.g. right
// after loading them.
func (s *PersistenceSystem) MarkSaved(through timing.Tick) {
	for _, id := range s.m.GridIDs() {
		g, _ := s.m.GetGrid(id)
		s.saved[id] = rowOf(g)
	}
	s.since = through + 1
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flushJournal(ctx)

	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.saveGrids(ctx)
}

// SaveAll persists everything immediately. Called for graceful shutdown.
func (s *PersistenceSystem) SaveAll(ctx context.Context) error {
	s.flushJournal(ctx)
	return s.saveGrids(ctx)
}

// OldestNeeded is the oldest tick whose deletions the next save still needs.
func (s *PersistenceSystem) OldestNeeded() (timing.Tick, bool) { return s.since, true }

func (s *PersistenceSystem) flushJournal(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	if err := s.journal.Write(ctx, s.entries); err != nil {
		s.log.Error("寫入圖塊日誌失敗", zap.Int("entries", len(s.entries)), zap.Error(err))
		return
	}
	s.entries = s.entries[:0]
}

func (s *PersistenceSystem) saveGrids(ctx context.Context) error {
	now := s.m.Clock().CurTick()

	for len(s.removed) > 0 {
		id := s.removed[0]
		if err := s.store.DeleteGrid(ctx, id); err != nil {
			s.log.Error("刪除網格失敗", zap.Int32("grid", int32(id)), zap.Error(err))
			return err
		}
		delete(s.saved, id)
		s.removed = s.removed[1:]
	}

	count := 0
	for _, id := range s.m.GridIDs() {
		g, _ := s.m.GetGrid(id)
		row := rowOf(g)
		prev, known := s.saved[id]

		var d mapping.GridDelta
		if known {
			d = g.GetDeltaSince(s.since)
		} else {
			d = g.FullState()
		}
		if known && d.Empty() && samePlacement(prev, row) {
			continue
		}
		if err := s.store.SaveDelta(ctx, row, d); err != nil {
			s.log.Error("儲存網格失敗", zap.Int32("grid", int32(id)), zap.Error(err))
			return err
		}
		s.saved[id] = row
		count++
	}

	if count > 0 {
		if err := s.journal.MarkProcessed(ctx); err != nil {
			s.log.Warn("標記圖塊日誌失敗", zap.Error(err))
		}
		s.log.Info("grids saved", zap.Int("count", count), zap.Uint32("tick", uint32(now)))
	}
	s.since = now + 1
	return nil
}

func rowOf(g *mapping.Grid) persist.GridRow {
	return persist.GridRow{
		ID:        g.ID(),
		Map:       g.MapID(),
		ChunkSize: g.ChunkSize(),
		TileSize:  g.TileSize(),
		Transform: g.Transform(),
		LastTick:  uint32(g.LastTileModifiedTick()),
	}
}

func samePlacement(a, b persist.GridRow) bool {
	return a.Map == b.Map && a.TileSize == b.TileSize && a.Transform == b.Transform
}

// HistoryCullSystem drops chunk deletion records nobody needs any more.
// Records are kept while a subscribed client has not acknowledged them or
// the next save still needs them, but never longer than the retention
// window. Phase 6 (Cleanup).
type HistoryCullSystem struct {
	m         *mapping.Manager
	retention timing.Tick
	holders   []func() (timing.Tick, bool)
}

func NewHistoryCullSystem(m *mapping.Manager, retentionTicks uint32, holders ...func() (timing.Tick, bool)) *HistoryCullSystem {
	return &HistoryCullSystem{m: m, retention: timing.Tick(retentionTicks), holders: holders}
}

func (s *HistoryCullSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *HistoryCullSystem) Update(_ time.Duration) {
	s.m.CullDeletionHistory(s.Cutoff())
}

// Cutoff is the tick below which deletion records are dropped.
func (s *HistoryCullSystem) Cutoff() timing.Tick {
	now := s.m.Clock().CurTick()
	cutoff := now + 1
	for _, h := range s.holders {
		if t, ok := h(); ok && t < cutoff {
			cutoff = t
		}
	}
	if now > s.retention && cutoff < now-s.retention {
		cutoff = now - s.retention
	}
	return cutoff
}
