// Package app is the query layer between the HTTP API and the budget
// engine, the deploy gate and the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/eval"
	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/policy"
	"github.com/AwesomeGRV/ErrorBudget/internal/statuscache"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

// ErrTimeout is returned when a request does not finish within the query timeout.
var ErrTimeout = errors.New("query timed out")

// AppConfig is the configuration of the App.
type AppConfig struct {
	Registry storage.Registry
	Store    metricstore.Store
	Gate     *policy.Gate
	Cache    statuscache.Cache
	Recorder metrics.Recorder
	Logger   *zap.Logger

	// CacheTTL is how long SLO status snapshots are served from the cache.
	CacheTTL time.Duration
	// QueryTimeout bounds every request that evaluates budgets.
	QueryTimeout time.Duration
	// EvalConcurrency bounds the SLOs of one request evaluated in parallel.
	EvalConcurrency  int
	IncidentLookback time.Duration
	IncidentStep     time.Duration
	TimeNowFunc      func() time.Time
}

func (c *AppConfig) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Store == nil {
		return fmt.Errorf("metric store is required")
	}
	if c.Gate == nil {
		c.Gate = policy.NewGate()
	}
	if c.Cache == nil {
		c.Cache = statuscache.NewMemory(nil)
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NoopRecorder
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.EvalConcurrency <= 0 {
		c.EvalConcurrency = 8
	}
	if c.IncidentLookback == 0 {
		c.IncidentLookback = 24 * time.Hour
	}
	if c.IncidentStep == 0 {
		c.IncidentStep = 15 * time.Minute
	}
	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}
	return nil
}

// App serves the read and write use cases of the platform.
type App struct {
	registry  storage.Registry
	store     metricstore.Store
	engine    *eval.Engine
	gate      *policy.Gate
	incidents *policy.IncidentScanner
	cache     statuscache.Cache
	metrics   metrics.Recorder
	logger    *zap.Logger

	cacheTTL        time.Duration
	queryTimeout    time.Duration
	evalConcurrency int
	now             func() time.Time
}

// NewApp returns a new App.
func NewApp(cfg AppConfig) (*App, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	engine := eval.NewEngine(cfg.Store, cfg.Recorder, cfg.Logger)

	return &App{
		registry:        cfg.Registry,
		store:           cfg.Store,
		engine:          engine,
		gate:            cfg.Gate,
		incidents:       policy.NewIncidentScanner(engine, cfg.IncidentLookback, cfg.IncidentStep),
		cache:           cfg.Cache,
		metrics:         cfg.Recorder,
		logger:          cfg.Logger.Named("app"),
		cacheTTL:        cfg.CacheTTL,
		queryTimeout:    cfg.QueryTimeout,
		evalConcurrency: cfg.EvalConcurrency,
		now:             cfg.TimeNowFunc,
	}, nil
}

// Ready checks the registry is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.registry.Ping(ctx)
}

// Compact runs one compaction pass over the metric store.
func (a *App) Compact(ctx context.Context) error {
	stats, err := a.store.Compact(ctx, a.now())
	if err != nil {
		return err
	}
	if stats.Moved > 0 || stats.Dropped > 0 {
		a.logger.Info("compacted metric store", zap.Int("moved", stats.Moved), zap.Int("dropped", stats.Dropped))
	}
	return nil
}

// withTimeout bounds ctx by the query timeout.
func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.queryTimeout)
}

// timeoutErr maps deadline errors to ErrTimeout.
func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
