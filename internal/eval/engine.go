package eval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

// SampleSource is the read side of the metric store the engine needs.
type SampleSource interface {
	Query(ctx context.Context, sloID int64, start, end time.Time) ([]metricstore.Sample, error)
}

// Engine computes error budgets and burn rates from stored samples.
type Engine struct {
	source  SampleSource
	metrics metrics.Recorder
	logger  *zap.Logger
}

// NewEngine creates a budget engine reading from source.
func NewEngine(source SampleSource, rec metrics.Recorder, logger *zap.Logger) *Engine {
	if rec == nil {
		rec = metrics.NoopRecorder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:  source,
		metrics: rec,
		logger:  logger.Named("engine"),
	}
}

// AlignEnd returns the exclusive end of every window evaluated at asOf:
// the end of the minute asOf falls in.
func AlignEnd(asOf time.Time) time.Time {
	return asOf.Truncate(metricstore.FineResolution).Add(metricstore.FineResolution)
}

// Compute evaluates the budget of s at asOf. Calling it twice with the same
// store contents and asOf yields the same result. The only errors returned
// come from ctx.
func (e *Engine) Compute(ctx context.Context, s slo.SLO, asOf time.Time) (budget *ErrorBudget, err error) {
	t0 := time.Now()
	defer func() {
		e.metrics.MeasureBudgetComputation(ctx, time.Since(t0), err)
	}()

	end := AlignEnd(asOf)
	longWindow := s.Window()
	lookback := longWindow
	if last := BurnWindows[len(BurnWindows)-1].Duration; last > lookback {
		lookback = last
	}

	samples, err := e.source.Query(ctx, s.ID, end.Add(-lookback), end)
	if err != nil {
		return nil, fmt.Errorf("query samples of slo %d: %w", s.ID, err)
	}

	var good, total float64
	windowGood := make([]float64, len(BurnWindows))
	windowTotal := make([]float64, len(BurnWindows))
	longStart := end.Add(-longWindow)

	// Windows are minute aligned, so minute rollups are counted whole or not
	// at all. An hour rollup crossing a window start is prorated.
	for _, smp := range samples {
		if f := smp.Overlap(longStart, end); f > 0 {
			good += f * smp.Numerator
			total += f * smp.Denominator
		}
		for i, w := range BurnWindows {
			if f := smp.Overlap(end.Add(-w.Duration), end); f > 0 {
				windowGood[i] += f * smp.Numerator
				windowTotal[i] += f * smp.Denominator
			}
		}
	}

	budget = &ErrorBudget{
		SLOID:       s.ID,
		AsOf:        asOf,
		GoodEvents:  good,
		TotalEvents: total,
		BurnRates:   make(map[string]BurnRateResult, len(BurnWindows)),
	}

	for i, w := range BurnWindows {
		sli := ComputeSLI(windowGood[i], windowTotal[i])
		br := BurnRateResult{
			Window: w.Name,
			Good:   windowGood[i],
			Total:  windowTotal[i],
		}
		if !sli.InsufficientData {
			br.ErrorRate = sli.ErrorRate
			br.BurnRate = round6(ComputeBurnRate(sli.ErrorRate, s.Target))
		}
		budget.BurnRates[w.Name] = br
	}
	budget.CurrentBurnRate = budget.BurnRate(CurrentBurnWindow.Name)

	sli := ComputeSLI(good, total)
	if sli.InsufficientData {
		budget.Undefined = true
		budget.RemainingPct = 100
		budget.TimeToExhaustion = -1
		e.logger.Debug("no events in compliance window", zap.Int64("slo_id", s.ID), zap.Time("as_of", asOf))
		return budget, nil
	}

	res := ComputeBudget(good, total, s.Target)
	budget.SLI = sli.Value
	budget.TotalAllowedErrors = res.Allowed
	budget.ConsumedErrors = res.Consumed
	budget.RemainingPct = res.RemainingPct
	budget.ConsumedPct = res.ConsumedPct
	budget.TimeToExhaustion = TimeToExhaustion(res.RemainingPct, budget.CurrentBurnRate, s.TimeWindowDays)

	return budget, nil
}
