package eval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AwesomeGRV/ErrorBudget/internal/eval"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

var asOf = time.Date(2024, 3, 10, 12, 0, 30, 0, time.UTC)

type fakeSource struct {
	samples []metricstore.Sample
}

func (f *fakeSource) Query(ctx context.Context, _ int64, start, end time.Time) ([]metricstore.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []metricstore.Sample
	for _, s := range f.samples {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

// steady spreads good/total evenly over one sample per hour across the window ending at asOf.
func steady(window time.Duration, total, bad float64) []metricstore.Sample {
	hours := int(window / time.Hour)
	out := make([]metricstore.Sample, 0, hours)
	end := asOf.Truncate(time.Minute)
	for i := 0; i < hours; i++ {
		out = append(out, metricstore.Sample{
			Timestamp:   end.Add(-time.Duration(i) * time.Hour),
			Numerator:   (total - bad) / float64(hours),
			Denominator: total / float64(hours),
		})
	}
	return out
}

func testSLO() slo.SLO {
	return slo.SLO{
		ID:                1,
		ServiceID:         1,
		Name:              "availability",
		SLIType:           slo.SLIAvailability,
		Target:            0.999,
		TimeWindowDays:    30,
		FastBurnThreshold: 2,
		SlowBurnThreshold: 1,
	}
}

func TestEngineCompute(t *testing.T) {
	tests := map[string]struct {
		samples []metricstore.Sample
		check   func(t *testing.T, b *eval.ErrorBudget)
	}{
		"No samples yields an undefined budget.": {
			samples: nil,
			check: func(t *testing.T, b *eval.ErrorBudget) {
				assert.True(t, b.Undefined)
				assert.Equal(t, 100.0, b.RemainingPct)
				assert.Equal(t, 0.0, b.ConsumedPct)
				assert.Equal(t, -1.0, b.TimeToExhaustion)
				assert.Equal(t, 0.0, b.CurrentBurnRate)
			},
		},
		"Fifty errors out of a hundred thousand leaves half the budget.": {
			samples: steady(30*24*time.Hour, 100000, 50),
			check: func(t *testing.T, b *eval.ErrorBudget) {
				assert.False(t, b.Undefined)
				assert.InDelta(t, 100000, b.TotalEvents, 1e-6)
				assert.InDelta(t, 100, b.TotalAllowedErrors, 1e-6)
				assert.Equal(t, 50.0, b.RemainingPct)
				assert.Equal(t, 50.0, b.ConsumedPct)
				assert.InDelta(t, 0.5, b.CurrentBurnRate, 1e-6)
			},
		},
		"Burning at exactly one for the whole window exhausts the budget.": {
			samples: steady(30*24*time.Hour, 720000, 720),
			check: func(t *testing.T, b *eval.ErrorBudget) {
				assert.Equal(t, 0.0, b.RemainingPct)
				assert.Equal(t, 100.0, b.ConsumedPct)
				for _, w := range eval.BurnWindows {
					assert.Equal(t, 1.0, b.BurnRate(w.Name), w.Name)
				}
				assert.Equal(t, 0.0, b.TimeToExhaustion)
			},
		},
		"Samples outside the compliance window are ignored.": {
			samples: []metricstore.Sample{
				{Timestamp: asOf.Add(-31 * 24 * time.Hour), Numerator: 0, Denominator: 1000},
				{Timestamp: asOf.Add(-time.Hour), Numerator: 1000, Denominator: 1000},
			},
			check: func(t *testing.T, b *eval.ErrorBudget) {
				assert.Equal(t, 1000.0, b.TotalEvents)
				assert.Equal(t, 100.0, b.RemainingPct)
			},
		},
		"Errors in the last minutes show up in short windows only.": {
			samples: append(
				steady(24*time.Hour, 24000, 0),
				metricstore.Sample{Timestamp: asOf.Add(-2 * time.Minute), Numerator: 90, Denominator: 100},
			),
			check: func(t *testing.T, b *eval.ErrorBudget) {
				// 5m: the 12:00 hourly sample (1000 good) plus the burst.
				assert.InDelta(t, (10.0/1100)/0.001, b.BurnRate("5m"), 1e-3)
				assert.Less(t, b.BurnRate("24h"), b.BurnRate("1h"))
				assert.Greater(t, b.BurnRate("5m"), 2.0)
				assert.Greater(t, b.TimeToExhaustion, 0.0)
			},
		},
		"A sample in the current minute is counted.": {
			samples: []metricstore.Sample{
				{Timestamp: asOf.Truncate(time.Minute), Numerator: 0, Denominator: 1},
			},
			check: func(t *testing.T, b *eval.ErrorBudget) {
				assert.Equal(t, 1.0, b.TotalEvents)
				assert.Equal(t, 1.0, b.BurnRates["5m"].Total)
				assert.Equal(t, 0.0, b.RemainingPct)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			engine := eval.NewEngine(&fakeSource{samples: test.samples}, nil, nil)

			b, err := engine.Compute(context.Background(), testSLO(), asOf)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, b.RemainingPct, 0.0)
			assert.LessOrEqual(t, b.RemainingPct, 100.0)
			test.check(t, b)
		})
	}
}

func TestEngineComputeIsIdempotent(t *testing.T) {
	engine := eval.NewEngine(&fakeSource{samples: steady(30*24*time.Hour, 50000, 37)}, nil, nil)

	first, err := engine.Compute(context.Background(), testSLO(), asOf)
	require.NoError(t, err)
	second, err := engine.Compute(context.Background(), testSLO(), asOf)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngineComputeCancelled(t *testing.T) {
	engine := eval.NewEngine(&fakeSource{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Compute(ctx, testSLO(), asOf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineWithMemoryStore(t *testing.T) {
	store, err := metricstore.NewMemory(metricstore.MemoryConfig{
		TimeNowFunc: func() time.Time { return asOf },
	})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, store.Append(ctx, 1, metricstore.Sample{
			Timestamp:   asOf.Add(-time.Duration(i) * time.Minute),
			Numerator:   999,
			Denominator: 1000,
		}))
	}

	b, err := eval.NewEngine(store, nil, nil).Compute(ctx, testSLO(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 60000.0, b.TotalEvents)
	assert.Equal(t, 1.0, b.BurnRate("1h"))
	assert.Equal(t, 0.0, b.RemainingPct)
}

func TestEngineCountsTheHourBucketAtTheWindowStart(t *testing.T) {
	store, err := metricstore.NewMemory(metricstore.MemoryConfig{
		TimeNowFunc: func() time.Time { return asOf },
	})
	require.NoError(t, err)
	ctx := context.Background()

	s := testSLO()
	s.TimeWindowDays = 7

	// The window starts at 12:01 seven days back. The sample is aged past the
	// fine retention and lands in the 12:00 hour bucket, 59 minutes of which
	// are inside the window.
	require.NoError(t, store.Append(ctx, 1, metricstore.Sample{
		Timestamp:   asOf.Add(-7*24*time.Hour + 5*time.Minute),
		Numerator:   0,
		Denominator: 600,
	}))

	engine := eval.NewEngine(store, nil, nil)
	before, err := engine.Compute(ctx, s, asOf)
	require.NoError(t, err)
	assert.False(t, before.Undefined)
	assert.InDelta(t, 590.0, before.TotalEvents, 1e-9)
	assert.InDelta(t, 0.0, before.GoodEvents, 1e-9)
	assert.Equal(t, 0.0, before.RemainingPct)

	_, err = store.Compact(ctx, asOf)
	require.NoError(t, err)

	after, err := engine.Compute(ctx, s, asOf)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngineBudgetSurvivesCompaction(t *testing.T) {
	now := asOf
	store, err := metricstore.NewMemory(metricstore.MemoryConfig{
		TimeNowFunc: func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()

	s := testSLO()
	s.TimeWindowDays = 3

	// Minute buckets spread over whole hours inside the window.
	for i := 0; i < 120; i++ {
		require.NoError(t, store.Append(ctx, 1, metricstore.Sample{
			Timestamp:   asOf.Add(-47*time.Hour - time.Duration(i)*time.Minute),
			Numerator:   99,
			Denominator: 100,
		}))
	}
	require.NoError(t, store.Append(ctx, 1, metricstore.Sample{Timestamp: asOf, Numerator: 100, Denominator: 100}))

	engine := eval.NewEngine(store, nil, nil)
	before, err := engine.Compute(ctx, s, asOf)
	require.NoError(t, err)
	assert.Equal(t, 12100.0, before.TotalEvents)

	// Two hours later the old minute buckets are rolled into hour buckets.
	now = asOf.Add(2 * time.Hour)
	stats, err := store.Compact(ctx, now)
	require.NoError(t, err)
	require.Greater(t, stats.Moved, 0)

	after, err := engine.Compute(ctx, s, asOf)
	require.NoError(t, err)
	assert.Equal(t, before.TotalEvents, after.TotalEvents)
	assert.Equal(t, before.GoodEvents, after.GoodEvents)
	assert.Equal(t, before.RemainingPct, after.RemainingPct)
}
