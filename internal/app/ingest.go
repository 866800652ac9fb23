package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

var errNotFound = storage.ErrNotFound

// MetricType says how the value of an ingested metric maps to events.
type MetricType string

const (
	// MetricSuccess counts value good events.
	MetricSuccess MetricType = "success"
	// MetricError counts value bad events.
	MetricError MetricType = "error"
	// MetricRatio is the good fraction of Total events.
	MetricRatio MetricType = "ratio"
	// MetricLatency is one event, good when value is within the latency threshold.
	MetricLatency MetricType = "latency"
	// MetricCounts carries Good and Total explicitly.
	MetricCounts MetricType = "counts"
	// MetricTotal is a bare total event count. It is recognised but rejected:
	// without a good count it cannot become a sample.
	MetricTotal MetricType = "total"
)

// Metric is one ingested measurement.
type Metric struct {
	ServiceID  int64
	SLOID      int64
	Timestamp  time.Time
	Value      float64
	MetricType MetricType
	Good       *float64
	Total      *float64
}

// Ingest appends a metric to the series of its SLO and returns an
// acknowledgement id. The SLO must belong to the given service.
func (a *App) Ingest(ctx context.Context, m Metric) (string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	s, err := a.registry.GetSLO(ctx, m.SLOID)
	if err != nil {
		return "", timeoutErr(fmt.Errorf("slo %d: %w", m.SLOID, err))
	}
	if s.ServiceID != m.ServiceID {
		return "", fmt.Errorf("slo %d does not belong to service %d: %w", m.SLOID, m.ServiceID, errNotFound)
	}

	smp, err := toSample(m, *s)
	if err == nil {
		err = a.store.Append(ctx, s.ID, smp)
	}
	if err != nil {
		a.logger.Debug("rejected metric", zap.Int64("slo_id", m.SLOID), zap.String("metric_type", string(m.MetricType)), zap.Error(err))
		return "", err
	}

	return uuid.New().String(), nil
}

// toSample maps a metric to good/total event counts.
func toSample(m Metric, s slo.SLO) (metricstore.Sample, error) {
	invalid := func(format string, args ...interface{}) (metricstore.Sample, error) {
		return metricstore.Sample{}, fmt.Errorf("%w: %s", metricstore.ErrInvalidSample, fmt.Sprintf(format, args...))
	}

	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return invalid("value is not finite")
	}

	smp := metricstore.Sample{Timestamp: m.Timestamp}
	switch m.MetricType {
	case MetricSuccess:
		smp.Numerator, smp.Denominator = m.Value, m.Value
	case MetricError:
		smp.Numerator, smp.Denominator = 0, m.Value
	case MetricRatio:
		if m.Total == nil {
			return invalid("ratio metrics require total")
		}
		if m.Value < 0 || m.Value > 1 {
			return invalid("ratio %v outside [0, 1]", m.Value)
		}
		smp.Numerator, smp.Denominator = m.Value**m.Total, *m.Total
	case MetricLatency:
		if s.SLIType != slo.SLILatency || s.LatencyThreshold <= 0 {
			return invalid("slo %d has no latency threshold", s.ID)
		}
		smp.Denominator = 1
		if m.Value <= s.LatencyThreshold {
			smp.Numerator = 1
		}
	case MetricCounts:
		if m.Good == nil || m.Total == nil {
			return invalid("counts metrics require good and total")
		}
		smp.Numerator, smp.Denominator = *m.Good, *m.Total
	case MetricTotal:
		return invalid("total metrics carry no good count, send counts with good and total")
	default:
		return invalid("unknown metric type %q", m.MetricType)
	}

	return smp, nil
}
