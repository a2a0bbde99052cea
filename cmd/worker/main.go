package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contactpilot/contactpilot/internal/app"
	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/campaign"
	"github.com/contactpilot/contactpilot/internal/config"
	"github.com/contactpilot/contactpilot/internal/crypto"
	"github.com/contactpilot/contactpilot/internal/observability"
	"github.com/contactpilot/contactpilot/internal/ops"
	"github.com/contactpilot/contactpilot/internal/repository/postgres"
	redisstore "github.com/contactpilot/contactpilot/internal/repository/redis"
	"github.com/contactpilot/contactpilot/internal/storage"
)

func main() {
	campaignFlag := flag.String("campaign", "", "Process a single campaign and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log, cfg.Env, "worker")
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *campaignFlag, logger); err != nil {
		logger.Error("Worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, campaignArg string, logger *zap.Logger) error {
	var single uuid.UUID
	if campaignArg != "" {
		id, err := uuid.Parse(campaignArg)
		if err != nil {
			return fmt.Errorf("invalid -campaign: %w", err)
		}
		single = id
	}

	logger.Info("Starting ContactPilot Worker",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.Env)),
		zap.String("driver", cfg.Browser.Driver),
		zap.Bool("single_campaign", single != uuid.Nil),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.App.Name, reg)

	credentialKey, err := crypto.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	// Database
	db, err := postgres.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	repos := postgres.NewRepositories(db.DB, credentialKey)
	logger.Info("Connected to database")

	checks := map[string]ops.Checker{"database": db}

	// Campaign event log
	var events campaign.Events
	if cfg.Audit.Enabled {
		auditLog := audit.NewLogger(db.DB, audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: cfg.Audit.FlushInterval,
		}, logger.Named("audit"))
		// flushes before the database closes
		defer auditLog.Close()
		events = auditLog
	}

	// Redis lease
	var leaser *redisstore.Leaser
	if cfg.Redis.Enabled {
		rc, err := redisstore.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		leaser = redisstore.NewLeaser(rc, cfg.Redis.LeasePrefix, cfg.Redis.LeaseTTL, logger.Named("lease"))
		checks["redis"] = rc
		logger.Info("Connected to redis", zap.Duration("lease_ttl", cfg.Redis.LeaseTTL))
	}

	// Diagnostic screenshots
	var shots campaign.Screenshots
	if cfg.Storage.Screenshots {
		store, err := storage.NewScreenshotStore(cfg.Storage)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		shots = store
		checks["storage"] = store
	}

	pipeline, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}

	processor := campaign.New(campaign.Deps{
		Launcher:    pipeline.Launcher,
		Runner:      pipeline.Runner,
		Submissions: repos.Submissions,
		Campaigns:   repos.Campaigns,
		Profiles:    repos.Profiles,
		Screenshots: shots,
		Learned:     pipeline.Learned,
		Events:      events,
		Metrics:     metrics,
	}, app.ProcessorOptions(cfg.Processor), logger.Named("processor"))

	w := &worker{
		processor:    processor,
		campaigns:    repos.Campaigns,
		leaser:       leaser,
		pollInterval: cfg.Processor.PollInterval,
		logger:       logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	workCtx, stopWork := context.WithCancel(gctx)
	defer stopWork()

	if cfg.Server.Enabled {
		router := ops.NewRouter(ops.RouterConfig{
			Service:     cfg.App.Name + "-worker",
			Checks:      checks,
			Campaigns:   repos.Campaigns,
			Submissions: repos.Submissions,
			Metrics:     metrics,
			Logger:      logger.Named("ops"),
		})
		srv := ops.NewServer(cfg.Server, router, logger)
		g.Go(func() error { return srv.Run(workCtx) })
	}

	g.Go(func() error {
		// the ops server follows the work loop down
		defer stopWork()
		if single != uuid.Nil {
			return w.runOne(workCtx, single)
		}
		return w.poll(workCtx)
	})

	err = g.Wait()
	logger.Info("Worker stopped")
	return err
}
