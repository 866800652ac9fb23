package metricstore

import (
	"context"
	"time"

	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
)

type measuredStore struct {
	orig    Store
	metrics metrics.Recorder
}

// NewMeasured wraps a Store timing every operation into rec.
func NewMeasured(orig Store, rec metrics.Recorder) Store {
	if rec == nil {
		rec = metrics.NoopRecorder
	}
	return measuredStore{orig: orig, metrics: rec}
}

func (m measuredStore) Append(ctx context.Context, sloID int64, s Sample) (err error) {
	t0 := time.Now()
	defer func() {
		m.metrics.MeasureStoreOperation(ctx, "Append", time.Since(t0), err)
		m.metrics.IncIngestedSamples(ctx, err == nil)
	}()
	return m.orig.Append(ctx, sloID, s)
}

func (m measuredStore) Query(ctx context.Context, sloID int64, start, end time.Time) (samples []Sample, err error) {
	t0 := time.Now()
	defer func() {
		m.metrics.MeasureStoreOperation(ctx, "Query", time.Since(t0), err)
	}()
	return m.orig.Query(ctx, sloID, start, end)
}

func (m measuredStore) SetRetention(sloID int64, retention time.Duration) {
	m.orig.SetRetention(sloID, retention)
}

func (m measuredStore) Compact(ctx context.Context, now time.Time) (stats CompactStats, err error) {
	t0 := time.Now()
	defer func() {
		m.metrics.MeasureStoreOperation(ctx, "Compact", time.Since(t0), err)
	}()
	return m.orig.Compact(ctx, now)
}
