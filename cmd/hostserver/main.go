// Package main provides the minigolf host binary: it accepts client connections over
// WebSocket, reconciles player identities against the store and serves map sets.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/config"
	"github.com/cory-johannsen/minigolf/internal/hostserver"
	"github.com/cory-johannsen/minigolf/internal/mapset"
	"github.com/cory-johannsen/minigolf/internal/observability"
	"github.com/cory-johannsen/minigolf/internal/player"
	"github.com/cory-johannsen/minigolf/internal/protocol"
	"github.com/cory-johannsen/minigolf/internal/reconcile"
	"github.com/cory-johannsen/minigolf/internal/server"
	"github.com/cory-johannsen/minigolf/internal/storage/memory"
	"github.com/cory-johannsen/minigolf/internal/storage/postgres"
	"github.com/cory-johannsen/minigolf/internal/transport/websocket"
	"github.com/cory-johannsen/minigolf/internal/trigger"
	"github.com/cory-johannsen/minigolf/migrations"
)

// store is the union of the persistence surfaces the host needs.
type store interface {
	reconcile.Store
	mapset.Store
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and MINIGOLF_ environment overrides")
	migrate := flag.Bool("migrate", true, "apply pending schema migrations before starting (postgres backend only)")
	console := flag.Bool("console", true, "read operator commands from stdin")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "hostserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer observability.Sync(logger)

	logger.Info("starting host server",
		zap.String("addr", cfg.Transport.Addr()),
		zap.String("path", cfg.Transport.Path),
		zap.String("envelope", cfg.Transport.Envelope),
		zap.String("storage", cfg.Storage.Backend),
	)

	st, closeStore := openStore(ctx, cfg, *migrate, logger)
	defer closeStore()

	defs := mapset.Standard()
	if cfg.Content.MapSetsFile != "" {
		defs, err = mapset.LoadDefinitions(cfg.Content.MapSetsFile)
		if err != nil {
			logger.Fatal("loading map set definitions", zap.String("path", cfg.Content.MapSetsFile), zap.Error(err))
		}
	}
	seeded, err := mapset.Seed(ctx, st, defs, logger)
	if err != nil {
		logger.Fatal("seeding map sets", zap.Error(err))
	}
	logger.Info("map sets ready", zap.Int("seeded", seeded))

	catalog, err := loadCatalog(cfg.Content.TriggersFile)
	if err != nil {
		logger.Fatal("loading trigger catalog", zap.Error(err))
	}
	logger.Info("trigger catalog loaded", zap.Int("triggers", catalog.Len()), zap.String("current", catalog.Current()))

	codec, err := protocol.NewCodec(protocol.Envelope(cfg.Transport.Envelope))
	if err != nil {
		logger.Fatal("creating codec", zap.Error(err))
	}

	hub := websocket.NewHub(cfg.Transport, logger)
	pipeline := reconcile.NewPipeline(st, reconcile.EmailMatchPolicy(cfg.Session.EmailMatchPolicy), logger)
	worker := reconcile.NewWorker(pipeline, cfg.Session.StoreTimeout)

	opts := hostserver.DefaultOptions()
	opts.TickInterval = cfg.Session.TickInterval
	opts.SweepInterval = cfg.Session.SweepInterval
	opts.HeartbeatTimeout = cfg.Session.HeartbeatTimeout
	opts.MaxAttempts = cfg.Session.ReconcileAttempts
	opts.StoreTimeout = cfg.Session.StoreTimeout

	loop, err := hostserver.New(hostserver.Deps{
		Transport: hub,
		Codec:     codec,
		Registry:  player.NewRegistry(logger),
		Pending:   player.NewPendingQueue(),
		Worker:    worker,
		Catalog:   catalog,
		MapSets:   st,
	}, opts, logger)
	if err != nil {
		logger.Fatal("creating control loop", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("transport", &server.FuncService{
		StartFn: hub.ListenAndServe,
		StopFn:  hub.Stop,
	})
	lifecycle.Add("loop", loop)

	if *console {
		go readConsole(os.Stdin, loop, logger)
	}

	logger.Info("host server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("host server exited with error", zap.Error(err))
		closeStore()
		observability.Sync(logger)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, logger *zap.Logger) (store, func()) {
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warn("using in-memory store, players and map sets are not persisted")
		return memory.New(), func() {}
	}

	if migrate {
		migStart := time.Now()
		if err := migrations.Up(cfg.Database.DSN()); err != nil {
			logger.Fatal("applying migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Duration("elapsed", time.Since(migStart)))
	}

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	logger.Debug("database pool", pool.Stats()...)
	return postgres.NewStore(pool), pool.Close
}

func loadCatalog(path string) (*trigger.Catalog, error) {
	if path == "" {
		return trigger.NewCatalog(trigger.DefaultNames())
	}
	return trigger.LoadCatalog(path)
}

// readConsole forwards operator lines to the loop until r is exhausted.
func readConsole(r io.Reader, loop *hostserver.Loop, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "help" {
			fmt.Fprintln(os.Stderr, "commands: next | prev | select <n> | run <player_id> | state | reconcile")
			continue
		}
		cmd, err := hostserver.ParseCommand(line)
		if err != nil {
			logger.Warn("ignoring console command", zap.String("line", line), zap.Error(err))
			continue
		}
		if err := loop.Submit(cmd); err != nil {
			logger.Warn("submitting console command", zap.String("line", line), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading console", zap.Error(err))
	}
}
