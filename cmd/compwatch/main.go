// Package main wires together the competitive monitoring service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/alert"
	"github.com/weomedia/compwatch/internal/api"
	"github.com/weomedia/compwatch/internal/clock/system"
	"github.com/weomedia/compwatch/internal/collector"
	"github.com/weomedia/compwatch/internal/config"
	"github.com/weomedia/compwatch/internal/detector"
	"github.com/weomedia/compwatch/internal/hash/sha256"
	"github.com/weomedia/compwatch/internal/id/uuid"
	"github.com/weomedia/compwatch/internal/logging"
	"github.com/weomedia/compwatch/internal/metrics"
	"github.com/weomedia/compwatch/internal/monitor"
	memorypublisher "github.com/weomedia/compwatch/internal/publisher/memory"
	pubsubpublisher "github.com/weomedia/compwatch/internal/publisher/pubsub"
	"github.com/weomedia/compwatch/internal/ranking"
	"github.com/weomedia/compwatch/internal/scheduler"
	"github.com/weomedia/compwatch/internal/snapshot"
	"github.com/weomedia/compwatch/internal/storage/gcs"
	"github.com/weomedia/compwatch/internal/storage/local"
	"github.com/weomedia/compwatch/internal/store"
	memorystore "github.com/weomedia/compwatch/internal/store/memory"
	postgresstore "github.com/weomedia/compwatch/internal/store/postgres"
)

const brandID = "weo-media"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, cleanup, err := buildKV(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanup()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()
	snapshots := snapshot.New(kv, clock, logger)

	blobs, err := buildBlobs(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, pubCleanup, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer pubCleanup()

	fetcher := collector.NewCollyFetcher(collector.FetcherConfig{
		UserAgent: cfg.Collector.UserAgent,
		Timeout:   cfg.Collector.PageTimeout(),
	})

	var shotter monitor.Screenshotter
	if cfg.Collector.Screenshots {
		chrome, err := collector.NewChromeScreenshotter(collector.ScreenshotConfig{
			MaxParallel:       cfg.Collector.ScreenshotParallel,
			UserAgent:         cfg.Collector.UserAgent,
			NavigationTimeout: cfg.Collector.PageTimeout(),
		})
		if err != nil {
			logger.Warn("screenshotter init failed, captures disabled", zap.Error(err))
		} else {
			shotter = chrome
			defer chrome.Close()
		}
	}

	col := collector.New(fetcher, shotter, blobs, snapshots, hasher, clock, collector.Config{
		RequestDelay: cfg.Collector.RequestDelay(),
		MaxRetries:   cfg.Collector.MaxRetries,
		PageTimeout:  cfg.Collector.PageTimeout(),
		BlobPrefix:   cfg.Blobs.Prefix,
	}, logger)

	det := detector.New(clock, logger)

	searcher := ranking.NewSearchClient(ranking.SearchClientConfig{
		Endpoint:   cfg.Search.Endpoint,
		APIKey:     cfg.Search.APIKey,
		Timeout:    time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
		MaxResults: cfg.Search.MaxResults,
	})
	tracker := ranking.New(searcher, snapshots, clock, ranking.Config{
		BrandID:     brandID,
		BrandName:   cfg.Brand.Name,
		BrandDomain: cfg.Brand.Domain,
	}, logger)

	var sender monitor.EmailSender
	if cfg.SMTP.Enabled {
		sender = alert.NewSMTPSender(alert.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		sender = alert.NewLogSender(logger)
	}

	dispatcher := alert.New(snapshots, sender, publisher, hasher, clock, idGen, alert.Config{
		Threshold:   monitor.Severity(cfg.Alerts.PriorityThreshold),
		MaxPerHour:  cfg.Alerts.MaxPerHour,
		Recipients:  cfg.Alerts.Recipients,
		DedupWindow: time.Duration(cfg.Alerts.DedupWindowDays) * 24 * time.Hour,
		Topic:       cfg.PubSub.TopicName,
	}, logger)

	engine := scheduler.New(
		snapshots,
		col,
		det,
		tracker,
		dispatcher,
		fetcher,
		blobs,
		sender,
		clock,
		scheduler.Config{
			Competitors:       cfg.Competitors,
			Keywords:          cfg.Keywords,
			Concurrency:       cfg.Collector.Concurrency,
			CompetitorTimeout: cfg.Collector.CompetitorTimeout(),
			CycleBudget:       cfg.Collector.CycleBudget(),
			Retention: snapshot.Retention{
				ScreenshotsDays: cfg.Retention.ScreenshotsDays,
				RankingsDays:    cfg.Retention.RankingsDays,
				LogsDays:        cfg.Retention.LogsDays,
			},
			ReportRecipients: cfg.Alerts.Recipients,
		},
		logger,
	)

	cronSched := scheduler.NewCron(logger)
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"competitor_scan", cfg.Schedules.CompetitorScan, engine.RunCompetitorScan},
		{"ranking_scan", cfg.Schedules.RankingScan, engine.RunRankingScan},
		{"performance_scan", cfg.Schedules.PerformanceScan, engine.RunPerformanceScan},
		{"weekly_report", cfg.Schedules.WeeklyReport, engine.RunWeeklyReport},
	}
	for _, job := range jobs {
		job := job
		if job.name == "ranking_scan" && cfg.Search.Endpoint == "" {
			logger.Info("ranking scan disabled: no search endpoint configured")
			continue
		}
		if err := cronSched.Register(job.name, job.spec, func() {
			if err := job.run(ctx); err != nil {
				logger.Error("scheduled job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("schedule registration failed", zap.Error(err))
		}
	}

	apiServer := api.NewServer(snapshots, cronSched, clock, api.Config{
		BrandID:      brandID,
		Competitors:  cfg.Competitors,
		Keywords:     cfg.Keywords,
		EmailEnabled: cfg.SMTP.Enabled,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	cronSched.Start()
	logger.Info("scheduler started")

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cronSched.Stop()
	logger.Info("shutdown complete")
}

func buildKV(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.KV, func(), error) {
	switch cfg.Store.Provider {
	case "postgres":
		kv, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:   cfg.Store.DSN,
			Table: cfg.Store.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := kv.Init(ctx); err != nil {
			kv.Close()
			return nil, nil, err
		}
		logger.Info("postgres store ready", zap.String("table", cfg.Store.Table))
		return kv, kv.Close, nil
	default:
		return memorystore.New(), func() {}, nil
	}
}

func buildBlobs(ctx context.Context, cfg config.Config) (monitor.BlobStore, error) {
	switch cfg.Blobs.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Blobs.GCSBucket})
	default:
		return local.New(local.Config{BaseDir: cfg.Blobs.BaseDir})
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (monitor.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(closeErr))
		}
	}
	return pubsubpublisher.New(topic), cleanup, nil
}
