package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AwesomeGRV/ErrorBudget/internal/app"
	"github.com/AwesomeGRV/ErrorBudget/internal/metrics"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/policy"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/status"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage/sqlstore"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T, mod func(cfg *ServerConfig)) *Server {
	t.Helper()

	clock := func() time.Time { return t0 }

	reg, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "registry.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	promReg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(promReg)

	store, err := metricstore.NewMemory(metricstore.MemoryConfig{TimeNowFunc: clock})
	require.NoError(t, err)

	a, err := app.NewApp(app.AppConfig{
		Registry:    reg,
		Store:       metricstore.NewMeasured(store, rec),
		Recorder:    rec,
		TimeNowFunc: clock,
	})
	require.NoError(t, err)

	cfg := ServerConfig{
		App:         a,
		Recorder:    rec,
		Gatherer:    promReg,
		TimeNowFunc: clock,
	}
	if mod != nil {
		mod(&cfg)
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)
	return server
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func createService(t *testing.T, server *Server, name string) slo.Service {
	t.Helper()
	w := doRequest(t, server, http.MethodPost, "/api/v1/services", map[string]interface{}{
		"name": name, "owner_team": "payments", "environment": "prod", "version": "1.0.0",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var svc slo.Service
	decode(t, w, &svc)
	return svc
}

func createSLO(t *testing.T, server *Server, serviceID int64) slo.SLO {
	t.Helper()
	w := doRequest(t, server, http.MethodPost, "/api/v1/slos", map[string]interface{}{
		"service_id": serviceID, "name": "availability", "sli_type": "availability",
		"target": 0.999, "time_window_days": 30, "hard_budget_policy": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var o slo.SLO
	decode(t, w, &o)
	return o
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := doRequest(t, server, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, w.Code)
		}

		var resp HealthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "healthy" {
			t.Errorf("expected status=healthy, got %s", resp.Status)
		}
		if !resp.Timestamp.Equal(t0) {
			t.Errorf("expected timestamp %s, got %s", t0, resp.Timestamp)
		}
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	w := doRequest(t, server, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp ReadyResponse
	decode(t, w, &resp)
	if !resp.Ready {
		t.Error("expected ready=true")
	}
}

func TestServiceEndpoints(t *testing.T) {
	assert := assert.New(t)
	server := setupTestServer(t, nil)

	svc := createService(t, server, "checkout")
	assert.NotZero(svc.ID)

	w := doRequest(t, server, http.MethodPost, "/services", map[string]interface{}{"name": "checkout", "environment": "prod"})
	assert.Equal(http.StatusConflict, w.Code)

	w = doRequest(t, server, http.MethodPost, "/services", map[string]interface{}{"name": "bad", "environment": "qa"})
	assert.Equal(http.StatusBadRequest, w.Code)

	w = doRequest(t, server, http.MethodPut, fmt.Sprintf("/services/%d", svc.ID), map[string]interface{}{
		"name": "checkout", "environment": "prod", "version": "2.0.0",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/services/%d", svc.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got slo.Service
	decode(t, w, &got)
	assert.Equal("2.0.0", got.Version)

	w = doRequest(t, server, http.MethodDelete, fmt.Sprintf("/services/%d", svc.ID), nil)
	assert.Equal(http.StatusNoContent, w.Code)

	var list []slo.Service
	w = doRequest(t, server, http.MethodGet, "/services", nil)
	decode(t, w, &list)
	assert.Empty(list)

	w = doRequest(t, server, http.MethodGet, "/services?include_disabled=true", nil)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.True(list[0].Disabled)

	w = doRequest(t, server, http.MethodGet, "/services/999", nil)
	assert.Equal(http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(CodeUnknownEntity, errResp.Code)

	w = doRequest(t, server, http.MethodGet, "/services/abc", nil)
	assert.Equal(http.StatusBadRequest, w.Code)
}

func TestSLOEndpoints(t *testing.T) {
	assert := assert.New(t)
	server := setupTestServer(t, nil)

	svc := createService(t, server, "checkout")
	o := createSLO(t, server, svc.ID)
	assert.Equal(slo.DefaultFastBurnThreshold, o.FastBurnThreshold)

	w := doRequest(t, server, http.MethodPost, "/slos", map[string]interface{}{
		"service_id": svc.ID, "name": "latency", "sli_type": "latency", "target": 0.99, "time_window_days": 7,
	})
	assert.Equal(http.StatusBadRequest, w.Code, "latency SLOs need a threshold")

	w = doRequest(t, server, http.MethodPut, fmt.Sprintf("/slos/%d", o.ID), map[string]interface{}{
		"name": "availability", "sli_type": "availability", "target": 0.995, "time_window_days": 28,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/slos/%d", o.ID), nil)
	var got slo.SLO
	decode(t, w, &got)
	assert.Equal(0.995, got.Target)
	assert.Equal(28, got.TimeWindowDays)
	assert.Equal(svc.ID, got.ServiceID)

	var list []slo.SLO
	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/services/%d/slos", svc.ID), nil)
	decode(t, w, &list)
	assert.Len(list, 1)

	w = doRequest(t, server, http.MethodDelete, fmt.Sprintf("/slos/%d", o.ID), nil)
	assert.Equal(http.StatusNoContent, w.Code)

	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/services/%d/slos", svc.ID), nil)
	decode(t, w, &list)
	assert.Empty(list)
}

func TestIngestAndStatus(t *testing.T) {
	assert := assert.New(t)
	server := setupTestServer(t, nil)

	svc := createService(t, server, "checkout")
	o := createSLO(t, server, svc.ID)

	ingest := func(body interface{}) *httptest.ResponseRecorder {
		return doRequest(t, server, http.MethodPost, "/api/v1/metrics/ingest", body)
	}

	w := ingest(map[string]interface{}{
		"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Add(-10 * time.Minute).Format(time.RFC3339),
		"value": 99950, "metric_type": "success",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var ack IngestResponse
	decode(t, w, &ack)
	assert.Equal("accepted", ack.Status)
	assert.NotEmpty(ack.ID)

	w = ingest(map[string]interface{}{
		"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Add(-10 * time.Minute).Format(time.RFC3339),
		"value": 50, "metric_type": "error",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	tests := map[string]struct {
		body    interface{}
		expCode int
		expErr  string
	}{
		"Malformed body.": {
			body:    "{not json",
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidRequest,
		},
		"Unknown metric type.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Format(time.RFC3339), "value": 1, "metric_type": "gauge",
			},
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidRequest,
		},
		"Total only metric.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Format(time.RFC3339), "value": 100, "metric_type": "total",
			},
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidSample,
		},
		"Zero denominator.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Format(time.RFC3339), "value": 0, "metric_type": "error",
			},
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidSample,
		},
		"Bad timestamp.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": o.ID, "timestamp": "yesterday", "value": 1, "metric_type": "success",
			},
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidSample,
		},
		"Timestamp far in the future.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": o.ID, "timestamp": t0.Add(time.Hour).Format(time.RFC3339), "value": 1, "metric_type": "success",
			},
			expCode: http.StatusBadRequest,
			expErr:  CodeInvalidSample,
		},
		"Unknown SLO.": {
			body: map[string]interface{}{
				"service_id": svc.ID, "slo_id": 999, "timestamp": t0.Format(time.RFC3339), "value": 1, "metric_type": "success",
			},
			expCode: http.StatusNotFound,
			expErr:  CodeUnknownEntity,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			w := ingest(test.body)
			require.Equal(t, test.expCode, w.Code, w.Body.String())
			var errResp ErrorResponse
			decode(t, w, &errResp)
			require.Equal(t, test.expErr, errResp.Code)
		})
	}

	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/services/%d/slo-status", svc.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var statuses []status.SLOStatus
	decode(t, w, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(status.StatusHealthy, statuses[0].Status)
	assert.InDelta(50, statuses[0].RemainingBudgetPct, 1e-9)
	require.NotNil(t, statuses[0].CurrentSLI)
	assert.InDelta(0.9995, *statuses[0].CurrentSLI, 1e-9)

	w = doRequest(t, server, http.MethodGet, fmt.Sprintf("/services/%d/error-budget", svc.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var budgets []map[string]interface{}
	decode(t, w, &budgets)
	require.Len(t, budgets, 1)
	for _, field := range []string{"total_budget", "consumed_budget", "remaining_budget", "remaining_percent",
		"current_burn_rate", "five_minute_burn", "one_hour_burn", "six_hour_burn", "twenty_four_hour_burn", "last_updated"} {
		assert.Contains(budgets[0], field)
	}
	assert.InDelta(100, budgets[0]["total_budget"], 1e-9)
	assert.InDelta(50, budgets[0]["remaining_budget"], 1e-9)
}

func TestDeployCheckEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)
	svc := createService(t, server, "checkout")

	tests := []struct {
		name         string
		query        string
		expectedCode int
		expectedErr  string
	}{
		{name: "missing params", query: "", expectedCode: http.StatusBadRequest, expectedErr: CodeInvalidRequest},
		{name: "unknown environment", query: "?service=checkout&env=qa", expectedCode: http.StatusBadRequest, expectedErr: CodeInvalidRequest},
		{name: "unknown service", query: "?service=search&env=prod", expectedCode: http.StatusNotFound, expectedErr: CodeUnknownEntity},
		{name: "known service", query: "?service=checkout&env=prod", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodGet, "/deploy-check"+tt.query, nil)
			if w.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedCode, w.Code, w.Body.String())
			}
			if tt.expectedErr != "" {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Code != tt.expectedErr {
					t.Errorf("expected code %s, got %s", tt.expectedErr, resp.Code)
				}
			}
		})
	}

	w := doRequest(t, server, http.MethodGet, "/api/v1/deploy-check?service=checkout&env=prod", nil)
	var check policy.DeployCheck
	decode(t, w, &check)
	assert.Equal(t, policy.DecisionSafe, check.Decision)
	assert.Equal(t, policy.ReasonNoSLOs, check.Reason)
	assert.Equal(t, svc.Name, check.ServiceName)
	assert.Equal(t, "prod", check.Environment)
}

func TestIngestRateLimit(t *testing.T) {
	server := setupTestServer(t, func(cfg *ServerConfig) {
		cfg.IngestRateLimit = 0.001
		cfg.IngestBurst = 1
	})

	w := doRequest(t, server, http.MethodPost, "/metrics/ingest", "{}")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, server, http.MethodPost, "/metrics/ingest", "{}")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, CodeRateLimited, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	doRequest(t, server, http.MethodGet, "/services", nil)
	w := doRequest(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "errorbudget_http_request_duration_seconds"), body)
	assert.True(t, strings.Contains(body, `route="/services`), body)
}
