// Package prometheus pulls SLO event counts from a Prometheus server into the metric store.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

// windowPlaceholder is replaced by the pull step in SLO queries.
const windowPlaceholder = "{{window}}"

// QueryAPI is the part of the Prometheus HTTP API the puller uses
type QueryAPI interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// SLOLister lists the SLOs to pull
type SLOLister interface {
	ListAllSLOs(ctx context.Context, includeDisabled bool) ([]slo.SLO, error)
}

// Appender receives pulled samples
type Appender interface {
	Append(ctx context.Context, sloID int64, s metricstore.Sample) error
}

// Config holds Prometheus puller configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryAttempts  uint
	// Backfill is how far back the first pull of an SLO reaches.
	Backfill    time.Duration
	TimeNowFunc func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryAttempts:  3,
		Backfill:       10 * time.Minute,
	}
}

func (c *Config) defaults() {
	d := DefaultConfig(c.URL)
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.Backfill < metricstore.FineResolution {
		c.Backfill = d.Backfill
	}
	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}
}

// Puller turns the good/total queries of SLOs into per-minute samples.
// Each pass queries every complete minute since the last one pulled.
type Puller struct {
	cfg     Config
	api     QueryAPI
	slos    SLOLister
	store   Appender
	sem     *semaphore.Weighted
	metrics metrics.Recorder
	logger  *zap.Logger

	mu   sync.Mutex
	last map[int64]time.Time
}

// NewAPI creates a Prometheus API client for cfg.URL
func NewAPI(cfg Config) (QueryAPI, error) {
	client, err := promapi.NewClient(promapi.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("could not create prometheus api client: %w", err)
	}
	return promv1.NewAPI(client), nil
}

// NewPuller creates a puller. A nil api connects to cfg.URL.
func NewPuller(cfg Config, api QueryAPI, slos SLOLister, store Appender, rec metrics.Recorder, logger *zap.Logger) (*Puller, error) {
	cfg.defaults()
	if api == nil {
		var err error
		if api, err = NewAPI(cfg); err != nil {
			return nil, err
		}
	}
	if rec == nil {
		rec = metrics.NoopRecorder
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Puller{
		cfg:     cfg,
		api:     api,
		slos:    slos,
		store:   store,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrency),
		metrics: rec,
		logger:  logger.Named("prometheus-puller"),
		last:    make(map[int64]time.Time),
	}, nil
}

// Pull runs one pass over all enabled SLOs that carry queries.
// An SLO that fails is retried from the same minute on the next pass.
func (p *Puller) Pull(ctx context.Context) (err error) {
	t0 := time.Now()
	defer func() {
		p.metrics.MeasurePrometheusPull(ctx, time.Since(t0), err)
	}()

	slos, err := p.slos.ListAllSLOs(ctx, false)
	if err != nil {
		return fmt.Errorf("could not list slos: %w", err)
	}

	end := p.cfg.TimeNowFunc().Truncate(metricstore.FineResolution)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range slos {
		if !s.Pulled() {
			continue
		}
		g.Go(func() error {
			if err := p.pullSLO(ctx, s, end); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("slo %d: %w", s.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// pullSLO appends one sample per complete minute in [from, end).
func (p *Puller) pullSLO(ctx context.Context, s slo.SLO, end time.Time) error {
	p.mu.Lock()
	from, ok := p.last[s.ID]
	p.mu.Unlock()
	if !ok || from.Before(end.Add(-p.cfg.Backfill)) {
		from = end.Add(-p.cfg.Backfill)
	}

	window := model.Duration(metricstore.FineResolution).String()
	goodQuery := substituteWindow(s.GoodQuery, window)
	totalQuery := substituteWindow(s.TotalQuery, window)

	for minute := from; minute.Before(end); minute = minute.Add(metricstore.FineResolution) {
		at := minute.Add(metricstore.FineResolution)

		good, err := p.query(ctx, goodQuery, at)
		if err != nil {
			return err
		}
		total, err := p.query(ctx, totalQuery, at)
		if err != nil {
			return err
		}

		if total > 0 {
			// increase() extrapolates, so good can overshoot total slightly.
			if good > total {
				good = total
			}
			if good < 0 {
				good = 0
			}
			err := p.store.Append(ctx, s.ID, metricstore.Sample{Timestamp: minute, Numerator: good, Denominator: total})
			if err != nil && !errors.Is(err, metricstore.ErrInvalidSample) {
				return err
			}
			if err != nil {
				p.logger.Warn("dropped pulled sample", zap.Int64("slo_id", s.ID), zap.Time("minute", minute), zap.Error(err))
			}
		}

		p.mu.Lock()
		p.last[s.ID] = at
		p.mu.Unlock()
	}

	return nil
}

// query runs an instant query at ts and sums the result.
func (p *Puller) query(ctx context.Context, query string, ts time.Time) (float64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer p.sem.Release(1)

	var value model.Value
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(p.cfg.RetryAttempts),
		retry.DelayType(retry.BackOffDelay),
	)
	err := r.Do(func() error {
		qctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		v, warnings, err := p.api.Query(qctx, query, ts)
		if err != nil {
			return err
		}
		if len(warnings) > 0 {
			p.logger.Debug("prometheus query warnings", zap.String("query", query), zap.Strings("warnings", warnings))
		}
		value = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("query %q failed: %w", query, err)
	}

	return sumValue(value)
}

// substituteWindow replaces {{window}} placeholder with actual window value
func substituteWindow(query string, window string) string {
	return strings.ReplaceAll(query, windowPlaceholder, window)
}

// sumValue aggregates a query result by summing all its samples.
// An empty vector is zero.
func sumValue(v model.Value) (float64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case model.Vector:
		var sum float64
		for _, smp := range v {
			sum += float64(smp.Value)
		}
		return sum, nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
