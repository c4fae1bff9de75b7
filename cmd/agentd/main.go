// Command agentd runs the offline-first visitor submission and sync engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tenantgate/visitsync/internal/config"
	"github.com/tenantgate/visitsync/internal/connectivity"
	"github.com/tenantgate/visitsync/internal/db"
	"github.com/tenantgate/visitsync/internal/logger"
	"github.com/tenantgate/visitsync/internal/pipeline"
	"github.com/tenantgate/visitsync/internal/retention"
	"github.com/tenantgate/visitsync/internal/store"
	"github.com/tenantgate/visitsync/internal/syncer"
	"github.com/tenantgate/visitsync/internal/telemetry"
	"github.com/tenantgate/visitsync/internal/visitorapi"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("starting visitsync agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DataDir)
	if err != nil {
		logger.Log.Fatal("failed to open durable store", zap.Error(err))
	}
	defer database.Close()

	submissions := store.NewSubmissionRepository(database.DB)
	logs := store.NewLogRepository(database.DB)

	photos, err := pipeline.New(filepath.Join(cfg.DataDir, "photos"),
		cfg.Image.MaxDimension, cfg.Image.JPEGQuality)
	if err != nil {
		logger.Log.Fatal("failed to init image pipeline", zap.Error(err))
	}

	api := visitorapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	monitor := connectivity.NewMonitor(connectivity.Config{
		ProbeURLs:        cfg.Connectivity.ProbeURLs,
		ProbeTimeout:     cfg.Connectivity.ProbeTimeout,
		OfflineThreshold: cfg.Connectivity.OfflineThreshold,
		MaxAutoRetries:   cfg.Connectivity.MaxAutoRetries,
	})
	monitor.Start(nil)
	defer monitor.Stop()

	engine := syncer.New(submissions, photos, api, syncer.Config{
		BatchSize:   cfg.Sync.BatchSize,
		BatchPause:  cfg.Sync.BatchPause,
		GraceWindow: cfg.Retention.GraceWindow,
	})

	telemetryQueue := telemetry.New(logs, api, telemetry.Config{
		Debounce:    cfg.Telemetry.Debounce,
		BatchSize:   cfg.Telemetry.BatchSize,
		MaxAttempts: cfg.Telemetry.MaxAttempts,
		BaseBackoff: cfg.Telemetry.BaseBackoff,
		RetainDays:  cfg.Telemetry.RetainDays,
	})
	defer telemetryQueue.Close()

	retainer := retention.New(submissions, photos)

	// Connectivity restored: drain the queue and flush telemetry.
	statusCh, unsubscribe := monitor.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case status := <-statusCh:
				if status != connectivity.StatusOnline {
					continue
				}
				telemetryQueue.ScheduleSync()
				if _, err := engine.Drain(ctx); err != nil {
					logger.Log.Warn("drain after reconnect failed", zap.Error(err))
				}
			}
		}
	}()

	scheduler := cron.New(cron.WithSeconds())

	mustSchedule(scheduler, fmt.Sprintf("@every %s", cfg.Connectivity.PeriodicInterval), func() {
		probeJob(ctx, monitor)
	})
	mustSchedule(scheduler, cfg.Sync.Schedule, func() {
		if monitor.Status() != connectivity.StatusOnline {
			return
		}
		if _, err := engine.Drain(ctx); err != nil {
			logger.Log.Warn("scheduled drain failed", zap.Error(err))
		}
	})
	mustSchedule(scheduler, cfg.Retention.Schedule, func() {
		if _, err := retainer.Purge(ctx, cfg.Retention.RetainDays); err != nil {
			logger.Log.Warn("retention purge failed", zap.Error(err))
		}
		if _, err := telemetryQueue.Prune(ctx); err != nil {
			logger.Log.Warn("telemetry prune failed", zap.Error(err))
		}
	})

	scheduler.Start()
	defer scheduler.Stop()

	telemetryQueue.Info("agent started", map[string]any{"data_dir": cfg.DataDir})

	<-ctx.Done()
	logger.Log.Info("shutting down")
}

// probeJob keeps connectivity fresh without an embedding app: a light
// periodic check while online, a full recheck with a fresh retry budget once
// offline. Without the forced recheck the monitor would stay Offline forever
// after its auto-retry budget runs out, since no platform reachability source
// is attached here.
func probeJob(ctx context.Context, monitor *connectivity.Monitor) {
	if monitor.Status() == connectivity.StatusOnline {
		monitor.PeriodicCheck(ctx)
		return
	}
	monitor.ForceCheck(ctx)
}

func mustSchedule(c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Log.Fatal("failed to schedule job", zap.String("spec", spec), zap.Error(err))
	}
}
