package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/tilegrid/internal/config"
	"github.com/l1jgo/tilegrid/internal/core/event"
	coresys "github.com/l1jgo/tilegrid/internal/core/system"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/data"
	"github.com/l1jgo/tilegrid/internal/mapping"
	gonet "github.com/l1jgo/tilegrid/internal/net"
	"github.com/l1jgo/tilegrid/internal/persist"
	"github.com/l1jgo/tilegrid/internal/physics"
	"github.com/l1jgo/tilegrid/internal/replication"
	"github.com/l1jgo/tilegrid/internal/scripting"
	"github.com/l1jgo/tilegrid/internal/system"
	"github.com/l1jgo/tilegrid/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              tilegrid  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33;1m%s\033[0m \033[90m%s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, n int) {
	numStr := fmt.Sprintf("%d", n)
	dotsLen := max(40-len(label)-len(numStr), 2)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Static data
	printSection("資料載入")
	defs, err := data.LoadTileDefs(cfg.Data.TileDefs)
	if err != nil {
		return err
	}
	printStat("圖塊定義", defs.Count())
	mapList, err := data.LoadMapList(cfg.Data.MapList)
	if err != nil {
		return err
	}
	mapList.ApplyDefaults(cfg.Grid.ChunkSize, cfg.Grid.TileSize)
	printStat("地圖清單", len(mapList.Maps))

	engine, err := scripting.NewEngine(cfg.Scripting.Dir, defs, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()
	printStat("生成腳本", len(engine.Generators()))
	fmt.Println()

	// 4. Grid core
	clock := timing.NewClock(0)
	bus := event.NewBus()
	entities := world.NewEntities()
	manager := mapping.NewManager(clock, entities, bus, log.With(zap.String("component", "grids")))
	manager.SetProxyMargin(cfg.Grid.ProxyMargin)
	manager.SetFixtureSink(physics.NewFixtureStore(log.With(zap.String("component", "physics"))))

	// 5. Storage, then load or seed grids
	printSection("資料庫")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		store   system.GridStore   = discardStore{}
		journal system.TileJournal = discardStore{}
		repo    *persist.GridRepo
	)
	if cfg.Database.Enabled {
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")
		repo = persist.NewGridRepo(db)
		store = repo
		journal = persist.NewJournalRepo(db)
	} else {
		printOK("資料庫已停用，網格僅存於記憶體")
	}

	loaded := false
	if repo != nil {
		if loaded, err = loadStored(ctx, manager, clock, repo); err != nil {
			return fmt.Errorf("load grids: %w", err)
		}
	}
	if !loaded {
		if err := seed(manager, cfg, mapList, defs, engine, log); err != nil {
			return err
		}
		if repo != nil {
			for _, id := range manager.MapIDs() {
				def := mapping.InvalidGrid
				if g, ok := manager.MapDefaultGrid(id); ok {
					def = g.ID()
				}
				if err := repo.SaveMap(ctx, id, def); err != nil {
					return fmt.Errorf("save map %d: %w", id, err)
				}
			}
		}
	}
	printStat("maps", len(manager.MapIDs()))
	printStat("grids", len(manager.GridIDs()))
	fmt.Println()
	bus.Discard()

	// 6. Network
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.ServerOptions{
		Path:          cfg.Network.Path,
		InQueueSize:   cfg.Network.InQueueSize,
		OutQueueSize:  cfg.Network.OutQueueSize,
		PacketsPerSec: cfg.Network.PacketsPerSecond,
		WriteTimeout:  cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go netServer.AcceptLoop()

	// 7. Create systems and register with runner
	sessions := gonet.NewSessionStore()
	hub := replication.NewHub(manager, log.With(zap.String("component", "replication")))
	hub.SetChunkSize(cfg.Grid.ChunkSize)
	persistSys := system.NewPersistenceSystem(manager, store, journal, log, int(cfg.Grid.PersistInterval))
	if loaded {
		persistSys.MarkSaved(clock.CurTick())
	}

	runner := coresys.NewRunner()
	runner.Register(system.NewTimingSystem(clock))
	runner.Register(system.NewInputSystem(netServer, sessions, hub, cfg.Network.MaxPacketsPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewReplicationSystem(hub, sessions))
	runner.Register(persistSys)
	runner.Register(system.NewHistoryCullSystem(manager, cfg.Grid.HistoryTicks, hub.OldestUnacked, persistSys.OldestNeeded))

	// 8. Start tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("啟動完成")
	printReady(fmt.Sprintf("listening on %s%s", netServer.Addr().String(), cfg.Network.Path))
	printReady(fmt.Sprintf("tick loop running (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := persistSys.SaveAll(saveCtx); err != nil {
				log.Error("最終存檔失敗", zap.Error(err))
			}
			if err := netServer.Shutdown(saveCtx); err != nil {
				log.Warn("listener shutdown", zap.Error(err))
			}
			saveCancel()
			log.Info("伺服器已停止")
			return nil
		}
	}
}

// loadStored recreates maps and grids from the database. It reports false
// when nothing is stored yet.
func loadStored(ctx context.Context, m *mapping.Manager, clock *timing.Clock, repo *persist.GridRepo) (bool, error) {
	maps, err := repo.LoadMaps(ctx)
	if err != nil {
		return false, err
	}
	if len(maps) == 0 {
		return false, nil
	}
	for _, mr := range maps {
		if _, err := m.CreateMap(mr.ID); err != nil {
			return false, err
		}
	}
	grids, err := repo.LoadGrids(ctx)
	if err != nil {
		return false, err
	}
	var latest uint32
	for _, s := range grids {
		latest = max(latest, s.Tick)
	}
	// loaded chunks are stamped at the newest stored tick
	clock.Set(timing.Tick(latest))
	for _, s := range grids {
		if _, err := m.LoadSnapshot(s.Map, s); err != nil {
			return false, fmt.Errorf("grid %d: %w", s.ID, err)
		}
	}
	for _, mr := range maps {
		if mr.DefaultGrid == mapping.InvalidGrid {
			continue
		}
		if err := m.SetMapDefaultGrid(mr.ID, mr.DefaultGrid); err != nil {
			return false, err
		}
	}
	printOK(fmt.Sprintf("loaded %d grids from database", len(grids)))
	return true, nil
}

// seed builds the initial world from a snapshot file if configured, else
// from the map list.
func seed(m *mapping.Manager, cfg *config.Config, list *data.MapList, defs *data.TileDefTable, gen data.Generator, log *zap.Logger) error {
	if cfg.Server.Snapshot == "" {
		if err := list.Seed(m, defs, gen, log); err != nil {
			return err
		}
		printOK("seeded from map list")
		return nil
	}
	f, err := os.Open(cfg.Server.Snapshot)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	grids, err := mapping.ReadSnapshotFile(f)
	if err != nil {
		return err
	}
	for _, s := range grids {
		if s.Map != mapping.NullMap && !m.MapExists(s.Map) {
			if _, err := m.CreateMap(s.Map); err != nil {
				return err
			}
		}
		if _, err := m.LoadSnapshot(s.Map, s); err != nil {
			return fmt.Errorf("snapshot grid %d: %w", s.ID, err)
		}
	}
	printOK(fmt.Sprintf("seeded %d grids from %s", len(grids), cfg.Server.Snapshot))
	return nil
}

// discardStore stands in for the database when it is disabled.
type discardStore struct{}

func (discardStore) SaveDelta(context.Context, persist.GridRow, mapping.GridDelta) error { return nil }
func (discardStore) DeleteGrid(context.Context, mapping.GridID) error                    { return nil }
func (discardStore) Write(context.Context, []persist.JournalEntry) error                 { return nil }
func (discardStore) MarkProcessed(context.Context) error                                 { return nil }

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
