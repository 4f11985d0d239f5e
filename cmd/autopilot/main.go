package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkforge/autopilot/internal/addons"
	"github.com/arkforge/autopilot/internal/api"
	"github.com/arkforge/autopilot/internal/config"
	"github.com/arkforge/autopilot/internal/database"
	"github.com/arkforge/autopilot/internal/engine"
	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/metrics"
	"github.com/arkforge/autopilot/internal/notify"
	"github.com/arkforge/autopilot/internal/probe"
	"github.com/arkforge/autopilot/internal/rules"
)

func main() {
	// Create logger
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(config.GetEnvOrDefault("AUTOPILOT_CONFIG", "autopilot.yaml"))
	if err != nil {
		logger.Fatal("loading config failed", zap.Error(err))
	}

	// Connect to PostgreSQL and bootstrap the schema
	db, err := database.NewPostgres(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("opening database failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBootstrap()
	if err := db.Ping(bootstrapCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := db.CreateTables(bootstrapCtx); err != nil {
		logger.Fatal("schema bootstrap failed", zap.Error(err))
	}

	repo := rules.NewPostgresRepository(db.DB())
	hist := history.NewPostgresStore(db.DB())

	prober := probe.NewHTTPProber(probe.RetryPolicy{
		Timeout:     cfg.Autopilot.ProbeTimeout,
		MaxAttempts: 1,
	}, cfg.Autopilot.ProbeRatePerSec, logger)

	accounts := addons.NewHTTPManager(cfg.Accounts.BaseURL, cfg.Accounts.Timeout, logger)

	dispatcher := notify.NewDispatcher(notify.Config{
		URL:     cfg.Webhook.URL,
		Enabled: cfg.Webhook.Enabled,
		Timeout: cfg.Webhook.Timeout,
	}, cfg.Autopilot.DefaultCooldown, logger)

	m := metrics.New()

	scheduler := engine.NewScheduler(engine.Config{
		Interval:         cfg.Autopilot.Interval,
		TickDeadline:     cfg.Autopilot.TickDeadline,
		RuleConcurrency:  cfg.Autopilot.RuleConcurrency,
		ProbeConcurrency: cfg.Autopilot.ProbeConcurrency,
		HistoryRetention: cfg.Autopilot.HistoryRetention,
	}, repo, prober, accounts, hist, dispatcher, m, logger)

	server := api.NewServer(cfg, logger, scheduler, repo, hist, accounts, m)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		stopScheduler()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
