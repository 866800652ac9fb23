package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	promadapter "github.com/AwesomeGRV/ErrorBudget/internal/adapter/prometheus"
	"github.com/AwesomeGRV/ErrorBudget/internal/api"
	"github.com/AwesomeGRV/ErrorBudget/internal/app"
	"github.com/AwesomeGRV/ErrorBudget/internal/config"
	"github.com/AwesomeGRV/ErrorBudget/internal/log"
	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/policy"
	"github.com/AwesomeGRV/ErrorBudget/internal/scheduler"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/statuscache"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage/sqlstore"
)

type flags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// Run runs the error budget server until a signal arrives or a component fails.
func Run(ctx context.Context, args []string) error {
	var f flags
	kapp := kingpin.New("slo-server", "SLO error budget engine and deploy gate.")
	kapp.DefaultEnvars()
	kapp.Flag("config", "Path to the YAML configuration file.").Short('c').StringVar(&f.configPath)
	kapp.Flag("log-level", "Overrides the configured log level.").EnumVar(&f.logLevel, "debug", "info", "warn", "error")
	if _, err := kapp.Parse(args[1:]); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	logger, err := log.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewPrometheusRecorder(reg)

	registry, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		ConnectAttempts: cfg.Storage.ConnectAttempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not open registry: %w", err)
	}
	defer registry.Close()

	mem, err := metricstore.NewMemory(metricstore.MemoryConfig{
		FineRetention:    cfg.Store.FineRetention,
		DefaultRetention: cfg.Store.DefaultRetention,
		MaxRetention:     cfg.Store.MaxRetention,
		ClockSkew:        cfg.Store.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("could not create metric store: %w", err)
	}
	store := metricstore.NewMeasured(mem, rec)

	cache, closeCache := newStatusCache(cfg, logger)
	defer closeCache()

	a, err := app.NewApp(app.AppConfig{
		Registry:         registry,
		Store:            store,
		Gate:             policy.NewGate(),
		Cache:            cache,
		Recorder:         rec,
		Logger:           logger,
		CacheTTL:         cfg.Cache.TTL,
		QueryTimeout:     cfg.Engine.QueryTimeout,
		EvalConcurrency:  cfg.Engine.EvalConcurrency,
		IncidentLookback: cfg.Gate.IncidentLookback,
		IncidentStep:     cfg.Gate.IncidentStep,
	})
	if err != nil {
		return fmt.Errorf("could not create app: %w", err)
	}

	if err := a.RestoreRetention(ctx); err != nil {
		return fmt.Errorf("could not restore series retention: %w", err)
	}
	if cfg.Catalog.Dir != "" {
		if err := syncCatalog(ctx, a, cfg.Catalog.Dir, logger); err != nil {
			return err
		}
	}

	sched := scheduler.NewScheduler(logger)
	err = sched.Add(scheduler.Job{Name: "compact", Interval: cfg.Store.CompactInterval, Run: a.Compact})
	if err != nil {
		return err
	}
	if cfg.Prometheus.Enabled {
		if err := addPuller(sched, cfg.Prometheus, registry, store, rec, logger); err != nil {
			return err
		}
	}

	server, err := api.NewServer(api.ServerConfig{
		App:             a,
		Addr:            cfg.Server.Addr(),
		Logger:          logger,
		Recorder:        rec,
		Gatherer:        reg,
		IngestRateLimit: cfg.Ingest.RateLimit,
		IngestBurst:     cfg.Ingest.Burst,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	var g run.Group

	// OS signals.
	{
		sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		exitC := make(chan struct{})
		g.Add(
			func() error {
				select {
				case <-sigCtx.Done():
					logger.Info("signal captured")
				case <-exitC:
				}
				return nil
			},
			func(_ error) {
				close(exitC)
				cancel()
			},
		)
	}

	// Background jobs.
	{
		jobCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := sched.Start(jobCtx); err != nil {
					return err
				}
				<-jobCtx.Done()
				return nil
			},
			func(_ error) {
				cancel()
				sched.Stop()
			},
		)
	}

	// API server.
	{
		g.Add(
			func() error {
				return server.Start()
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("error shutting down API server", zap.Error(err))
				}
			},
		)
	}

	return g.Run()
}

func newStatusCache(cfg *config.Config, logger *zap.Logger) (statuscache.Cache, func()) {
	if cfg.Cache.Backend != "redis" {
		return statuscache.NewMemory(nil), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("using redis status cache", zap.String("addr", cfg.Redis.Addr))
	return statuscache.NewRedis(rdb, logger, nil), func() { _ = rdb.Close() }
}

func syncCatalog(ctx context.Context, a *app.App, dir string, logger *zap.Logger) error {
	v, err := slo.NewValidator()
	if err != nil {
		return fmt.Errorf("could not create catalog validator: %w", err)
	}

	files, verrs := v.ValidateDirectory(dir)
	if len(verrs) > 0 {
		for _, e := range verrs {
			logger.Error("invalid catalog", zap.String("file", e.File), zap.String("path", e.Path), zap.String("message", e.Message))
		}
		return fmt.Errorf("catalog %s has %d validation error(s)", dir, len(verrs))
	}

	if _, err := a.SyncCatalog(ctx, files); err != nil {
		return fmt.Errorf("could not sync catalog %s: %w", dir, err)
	}
	return nil
}

func addPuller(sched *scheduler.Scheduler, cfg config.PrometheusConfig, slos promadapter.SLOLister, store promadapter.Appender, rec metrics.Recorder, logger *zap.Logger) error {
	pcfg := promadapter.Config{
		URL:            cfg.URL,
		Timeout:        cfg.Timeout,
		MaxConcurrency: cfg.MaxConcurrency,
		RetryAttempts:  cfg.RetryAttempts,
		Backfill:       cfg.Backfill,
	}
	promAPI, err := promadapter.NewAPI(pcfg)
	if err != nil {
		return fmt.Errorf("could not create Prometheus client: %w", err)
	}
	puller, err := promadapter.NewPuller(pcfg, promAPI, slos, store, rec, logger)
	if err != nil {
		return fmt.Errorf("could not create Prometheus puller: %w", err)
	}

	logger.Info("pulling SLO samples from Prometheus", zap.String("url", cfg.URL), zap.Duration("interval", cfg.PullInterval))
	return sched.Add(scheduler.Job{
		Name:       "prometheus-pull",
		Interval:   cfg.PullInterval,
		RunOnStart: true,
		Run:        puller.Pull,
	})
}
