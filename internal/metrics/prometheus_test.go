package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
)

func TestPrometheusRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewPrometheusRecorder(reg)
	ctx := context.Background()

	r.IncIngestedSamples(ctx, true)
	r.IncIngestedSamples(ctx, true)
	r.IncIngestedSamples(ctx, false)
	r.IncDeployCheck(ctx, "BLOCKED")
	r.IncStatusCache(ctx, false)

	expected := `
		# HELP errorbudget_metricstore_ingested_samples_total Total samples offered to the metric store, by outcome.
		# TYPE errorbudget_metricstore_ingested_samples_total counter
		errorbudget_metricstore_ingested_samples_total{accepted="false"} 1
		errorbudget_metricstore_ingested_samples_total{accepted="true"} 2
		# HELP errorbudget_gate_deploy_checks_total Total deploy checks, by decision.
		# TYPE errorbudget_gate_deploy_checks_total counter
		errorbudget_gate_deploy_checks_total{decision="BLOCKED"} 1
		# HELP errorbudget_status_cache_lookups_total Total status cache lookups, by hit.
		# TYPE errorbudget_status_cache_lookups_total counter
		errorbudget_status_cache_lookups_total{hit="false"} 1
	`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"errorbudget_metricstore_ingested_samples_total",
		"errorbudget_gate_deploy_checks_total",
		"errorbudget_status_cache_lookups_total",
	)
	require.NoError(t, err)
}

func TestPrometheusRecorderHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewPrometheusRecorder(reg)
	ctx := context.Background()

	r.MeasureStoreOperation(ctx, "Append", 2*time.Millisecond, nil)
	r.MeasureStoreOperation(ctx, "Append", 3*time.Millisecond, errors.New("boom"))
	r.MeasureHTTPRequest(ctx, "/health", "GET", 200, time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "errorbudget_metricstore_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "errorbudget_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRegistryDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.NewPrometheusRecorder(nil).IncDeployCheck(context.Background(), "SAFE")
		metrics.NewPrometheusRecorder(nil).IncDeployCheck(context.Background(), "SAFE")
	})
}
