// Package main runs the world server: the action queue processor and
// stuck-claim sweeper driving the persistent game world.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/config"
	"github.com/momoathome/project-browsergame-sub001/internal/game/battle"
	"github.com/momoathome/project-browsergame-sub001/internal/game/catalog"
	"github.com/momoathome/project-browsergame-sub001/internal/game/queue"
	"github.com/momoathome/project-browsergame-sub001/internal/game/rng"
	"github.com/momoathome/project-browsergame-sub001/internal/observability"
	"github.com/momoathome/project-browsergame-sub001/internal/server"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/world.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worldserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	cat, err := catalog.Load(cfg.Catalog.ShipsPath)
	if err != nil {
		return fmt.Errorf("loading ship catalog: %w", err)
	}
	logger.Info("ship catalog loaded",
		zap.String("path", cfg.Catalog.ShipsPath),
		zap.Int("ship_types", cat.Len()),
	)

	db := pool.DB()
	queueRepo := postgres.NewActionQueueRepository(db)
	commanders := postgres.NewCommanderRepository(db)
	spacecrafts := postgres.NewSpacecraftRepository(db)
	buildings := postgres.NewBuildingRepository(db)
	asteroids := postgres.NewAsteroidRepository(db)
	ledger := postgres.NewLogRepository(db)

	events := queue.NewLogSink(observability.Component(logger, "events"))
	src := rng.NewCryptoSource()
	params := battle.Params{
		MaxRounds:       cfg.Battle.MaxRounds,
		DamageFactorMin: cfg.Battle.DamageFactorMin,
		DamageFactorMax: cfg.Battle.DamageFactorMax,
	}

	registry := queue.NewRegistry()
	handlerLog := observability.Component(logger, "handler")
	for _, h := range []queue.Handler{
		queue.NewMiningHandler(asteroids, commanders, cat, ledger, events, handlerLog),
		queue.NewBuildingHandler(buildings, events, handlerLog),
		queue.NewProductionHandler(spacecrafts, cat, events, handlerLog),
		queue.NewResearchHandler(spacecrafts, cat, events, handlerLog),
		queue.NewCombatHandler(spacecrafts, commanders, cat, ledger, events, src, params, handlerLog),
	} {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("registering handlers: %w", err)
		}
	}

	processor := queue.NewProcessor(queueRepo, registry, observability.Component(logger, "processor"), cfg.Queue)
	sweeper := queue.NewSweeper(queueRepo, observability.Component(logger, "sweeper"), cfg.Queue.StuckTimeout)

	scheduler := server.NewScheduler(observability.Component(logger, "scheduler"))
	if err := scheduler.AddEvery("process-due", cfg.Queue.ProcessInterval, func(ctx context.Context) {
		if _, err := processor.ProcessDue(ctx, time.Now()); err != nil {
			logger.Error("processing due actions", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := scheduler.AddEvery("sweep-stuck", cfg.Queue.SweepInterval, func(ctx context.Context) {
		if _, err := sweeper.Sweep(ctx, time.Now()); err != nil {
			logger.Error("sweeping stuck actions", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	lifecycle := server.NewLifecycle(observability.Component(logger, "lifecycle"))
	lifecycle.Add("scheduler", scheduler)

	logger.Info("world server starting",
		zap.Duration("process_interval", cfg.Queue.ProcessInterval),
		zap.Duration("sweep_interval", cfg.Queue.SweepInterval),
		zap.Int("batch_size", cfg.Queue.BatchSize),
	)
	return lifecycle.Run(ctx)
}
