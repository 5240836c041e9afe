package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/classify"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/engine"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/metrics"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/output"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/pihole"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/resolver"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/runlock"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// One instance per state directory. A held lock is expected when the
	// previous cycle is still running: exit cleanly, touch nothing.
	lock, err := runlock.Acquire(cfg.State.LockFile)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			fmt.Println("Another instance is running; exiting.")
			return
		}
		logger.Fatal("Failed to acquire run lock", zap.Error(err))
	}
	defer lock.Release()

	// Pi-hole databases. Open failures degrade to empty adapters; the
	// cycle still runs on whatever sources remain.
	ftlDB, err := pihole.OpenDB(cfg.Pihole.FTLDB)
	if err != nil {
		logger.Warn("FTL database unavailable", zap.Error(err))
	} else {
		defer ftlDB.Close()
	}

	gravityDB, err := openGravity(cfg)
	if err != nil {
		logger.Warn("Gravity database unavailable", zap.Error(err))
	} else {
		defer gravityDB.Close()
	}

	source := pihole.NewFTLSource(ftlDB, cfg.Pihole.QueryLog, cfg.Pihole.Timeout, logger)
	gravity := pihole.NewGravity(gravityDB, cfg.Pihole.Timeout, logger)
	sink := pihole.NewSink(gravityDB, cfg.Pihole.CLIPath, cfg.Pihole.SQLPromotion,
		cfg.Pihole.PromotionGroup, cfg.Pihole.Timeout, logger)

	cache := resolver.NewCNAMECache(resolver.Options{
		Server:    cfg.CNAME.Resolver,
		CacheFile: cfg.State.CNAMECacheFile,
		TTL:       time.Duration(cfg.CNAME.CacheTTLHours) * time.Hour,
		CacheOnly: cfg.CNAME.CacheOnly,
		Timeout:   cfg.CNAME.Timeout,
		Rate:      cfg.CNAME.RatePerSecond,
	}, logger)

	miner := classify.NewMiner(
		cfg.State.LearnedKeywordFile,
		time.Duration(cfg.Learn.RefreshHours)*time.Hour,
		cfg.Learn.MinSupportFamilies,
		cfg.Learn.MaxKeywords,
		cfg.Learn.Stopwords,
		cfg.Learn.Enabled,
		logger,
	)

	composer := output.NewComposer(
		cfg.Output.BlocklistFile,
		cfg.Output.LegacyOutputSymlink,
		cfg.Output.AllowFile,
		cfg.Output.ManualBlockFile,
		cfg.Pihole.PromotionComment,
		gravity,
		logger,
	)

	eng := engine.New(cfg, source, gravity, sink, gravity, cache, miner,
		metrics.NewCollector(), composer, logger)

	summary, err := eng.Run(context.Background())
	if err != nil {
		logger.Error("Cycle failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(summary)
}

func openGravity(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Pihole.SQLPromotion {
		return pihole.OpenDBWritable(cfg.Pihole.GravityDB)
	}
	return pihole.OpenDB(cfg.Pihole.GravityDB)
}
