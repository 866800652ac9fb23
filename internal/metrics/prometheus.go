package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "errorbudget"

// PrometheusRecorder is a Recorder backed by client_golang collectors.
type PrometheusRecorder struct {
	storeOpDuration   *prometheus.HistogramVec
	budgetDuration    *prometheus.HistogramVec
	pullDuration      *prometheus.HistogramVec
	httpDuration      *prometheus.HistogramVec
	ingestedSamples   *prometheus.CounterVec
	deployChecks      *prometheus.CounterVec
	statusCacheLookup *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg. A nil reg gets a private registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		storeOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "metricstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration histogram of metric store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "success"}),

		budgetDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "budget_computation_duration_seconds",
			Help:      "Duration histogram of error budget computations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"}),

		pullDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prometheus_puller",
			Name:      "pull_duration_seconds",
			Help:      "Duration histogram of Prometheus sample pulls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration histogram of HTTP API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),

		ingestedSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metricstore",
			Name:      "ingested_samples_total",
			Help:      "Total samples offered to the metric store, by outcome.",
		}, []string{"accepted"}),

		deployChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "deploy_checks_total",
			Help:      "Total deploy checks, by decision.",
		}, []string{"decision"}),

		statusCacheLookup: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status_cache",
			Name:      "lookups_total",
			Help:      "Total status cache lookups, by hit.",
		}, []string{"hit"}),
	}
}

func (r *PrometheusRecorder) MeasureStoreOperation(_ context.Context, op string, t time.Duration, err error) {
	r.storeOpDuration.WithLabelValues(op, strconv.FormatBool(err == nil)).Observe(t.Seconds())
}

func (r *PrometheusRecorder) MeasureBudgetComputation(_ context.Context, t time.Duration, err error) {
	r.budgetDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(t.Seconds())
}

func (r *PrometheusRecorder) MeasurePrometheusPull(_ context.Context, t time.Duration, err error) {
	r.pullDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(t.Seconds())
}

func (r *PrometheusRecorder) MeasureHTTPRequest(_ context.Context, route, method string, code int, t time.Duration) {
	r.httpDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(t.Seconds())
}

func (r *PrometheusRecorder) IncIngestedSamples(_ context.Context, accepted bool) {
	r.ingestedSamples.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

func (r *PrometheusRecorder) IncDeployCheck(_ context.Context, decision string) {
	r.deployChecks.WithLabelValues(decision).Inc()
}

func (r *PrometheusRecorder) IncStatusCache(_ context.Context, hit bool) {
	r.statusCacheLookup.WithLabelValues(strconv.FormatBool(hit)).Inc()
}
