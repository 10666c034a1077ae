package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-hotspots/internal/aggregate"
	"github.com/miradorstack/mirador-hotspots/internal/alerts"
	"github.com/miradorstack/mirador-hotspots/internal/api"
	"github.com/miradorstack/mirador-hotspots/internal/artifact"
	"github.com/miradorstack/mirador-hotspots/internal/cache"
	"github.com/miradorstack/mirador-hotspots/internal/checkpoint"
	"github.com/miradorstack/mirador-hotspots/internal/config"
	"github.com/miradorstack/mirador-hotspots/internal/detector"
	"github.com/miradorstack/mirador-hotspots/internal/diagnostics"
	"github.com/miradorstack/mirador-hotspots/internal/engine"
	"github.com/miradorstack/mirador-hotspots/internal/history"
	"github.com/miradorstack/mirador-hotspots/internal/jobs"
	"github.com/miradorstack/mirador-hotspots/internal/metrics"
	"github.com/miradorstack/mirador-hotspots/internal/repo"
	"github.com/miradorstack/mirador-hotspots/internal/scheduler"
	"github.com/miradorstack/mirador-hotspots/internal/services"
	"github.com/miradorstack/mirador-hotspots/internal/telemetry"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	slog.SetDefault(logger)
	logger.Info("starting mirador-hotspots", slog.String("address", cfg.Server.Address))

	if err := run(cfg, logger); err != nil {
		logger.Error("mirador-hotspots failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("mirador-hotspots stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	registry, err := jobs.NewRegistry(jobs.DefaultTable(), cfg.Jobs.Disabled, cfg.Jobs.Params)
	if err != nil {
		return fmt.Errorf("job registry: %w", err)
	}
	detectors := detector.DefaultRegistry()
	if err := detectors.Verify(registry.List()); err != nil {
		return fmt.Errorf("model registry: %w", err)
	}
	logger.Info("detection models registered", slog.Any("models", detectors.IDs()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cp, closeCheckpoint, err := newCheckpointStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCheckpoint()

	artifacts, err := artifact.NewFileStore(cfg.Storage.ModelDir)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	hist, err := history.NewFileStore(filepath.Join(cfg.Storage.DataDir, "history"), cfg.Storage.HistoryRetention)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}

	elastic, err := repo.NewElasticClient(repo.ElasticOptions{
		URL:                cfg.Elastic.URL,
		Username:           cfg.Elastic.Username,
		Password:           cfg.Elastic.Password,
		CAFile:             cfg.Elastic.CAFile,
		InsecureSkipVerify: cfg.Elastic.InsecureSkipVerify,
		Timeout:            cfg.Elastic.Timeout,
		EventsIndex:        cfg.Elastic.EventsIndex,
	})
	if err != nil {
		return fmt.Errorf("elastic client: %w", err)
	}
	collector := telemetry.NewCollector(logger, elastic, aggregate.New(logger, cfg.Detection.BucketMinutes), telemetry.Options{
		IndexPrefix: cfg.Elastic.IndexPrefix,
		Cluster:     cfg.Elastic.Cluster,
		PageSize:    cfg.Elastic.PageSize,
		ScrollTTL:   cfg.Elastic.ScrollTTL,
		MaxDocs:     cfg.Detection.MaxDocs,
	})
	sender := alerts.NewSender(logger, elastic, cfg.Detection.AlertDropFields)

	pipelineOpts, err := pipelineOptions(cfg)
	if err != nil {
		return err
	}
	// One lock guards every artifact read and write, across all jobs.
	var artifactLock sync.Mutex
	manager := engine.NewManager(logger, artifacts, detectors, &artifactLock)
	pipeline := engine.NewPipeline(logger, manager, registry, cp, hist, sender, pipelineOpts)

	validator, err := diagnostics.NewValidator(logger, pipeline, collector, hist)
	if err != nil {
		return fmt.Errorf("self-diagnostics: %w", err)
	}
	fixtures, err := diagnostics.LoadFixtures(registry.List())
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}

	sched := scheduler.New(logger, pipeline, collector, validator, scheduler.Options{
		TrainIntervalMinutes:   cfg.Schedule.TrainIntervalMinutes,
		SearchIntervalMinutes:  cfg.Schedule.SearchIntervalMinutes,
		Tick:                   cfg.Schedule.Tick,
		StartupSelfDiagnostics: cfg.Schedule.StartupSelfDiagnostics,
		QueueSize:              cfg.Schedule.QueueSize,
	})

	hotspots := services.NewHotspotsService(logger, services.Dependencies{
		Cycles:      pipeline,
		Jobs:        registry,
		Tasks:       sched,
		Live:        collector,
		Fixtures:    diagnostics.NewFixtureSource(fixtures),
		Assembler:   collector,
		Diagnostics: validator,
		History:     hist,
	})

	server, err := api.NewServer(cfg.Server, logger, hotspots)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("cycles still running at shutdown")
	}
	return nil
}

func newCheckpointStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (checkpoint.Store, func(), error) {
	noop := func() {}
	if cfg.Storage.CheckpointBackend != config.CheckpointBackendCache {
		return checkpoint.NewFileStore(filepath.Join(cfg.Storage.DataDir, "last_timestamp.json"), cfg.Schedule.SearchInterval()), noop, nil
	}
	provider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxRetries:   cfg.Cache.MaxRetries,
		PoolSize:     cfg.Cache.PoolSize,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("checkpoint cache: %w", err)
	}
	logger.Info("checkpoint stored in cache", slog.String("addr", cfg.Cache.Addr), slog.String("key", cfg.Storage.CheckpointKey))
	closer := func() {
		if err := provider.Close(); err != nil {
			logger.Warn("close checkpoint cache", slog.Any("error", err))
		}
	}
	return checkpoint.NewCacheStore(provider, cfg.Storage.CheckpointKey, cfg.Schedule.SearchInterval()), closer, nil
}

func pipelineOptions(cfg *config.Config) (engine.PipelineOptions, error) {
	opts := engine.PipelineOptions{
		TrainInterval: cfg.Schedule.TrainInterval(),
		SendAlerts:    cfg.Detection.SendAlerts,
		MaxDocs:       cfg.Detection.MaxDocs,
	}
	for _, bound := range []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"trainStart", cfg.Detection.TrainStart, &opts.TrainStart},
		{"trainEnd", cfg.Detection.TrainEnd, &opts.TrainEnd},
		{"searchStart", cfg.Detection.SearchStart, &opts.SearchStart},
		{"searchEnd", cfg.Detection.SearchEnd, &opts.SearchEnd},
	} {
		t, err := config.ParseWindowTime(bound.value)
		if err != nil {
			return opts, fmt.Errorf("detection.%s: %w", bound.name, err)
		}
		*bound.dst = t
	}
	return opts, nil
}
