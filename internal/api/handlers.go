package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/app"
	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}()

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: s.now().UTC()})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ready(r.Context()); err != nil {
		s.logger.Warn("not ready", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, ReadyResponse{Ready: false, Reason: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, ReadyResponse{Ready: true})
}

// handleListServices handles GET /services
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	includeDisabled := false
	if v := r.URL.Query().Get("include_disabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "include_disabled must be a boolean")
			return
		}
		includeDisabled = b
	}

	services, err := s.app.ListServices(r.Context(), includeDisabled)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, services)
}

// handleCreateService handles POST /services
func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var svc slo.Service
	if !decodeJSON(w, r, &svc) {
		return
	}
	svc.ID = 0
	svc.Disabled = false

	if err := s.app.CreateService(r.Context(), &svc); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, svc)
}

// handleGetService handles GET /services/{id}
func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	svc, err := s.app.GetService(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

// handleUpdateService handles PUT /services/{id}
func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var svc slo.Service
	if !decodeJSON(w, r, &svc) {
		return
	}
	svc.ID = id

	if err := s.app.UpdateService(r.Context(), &svc); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

// handleDisableService handles DELETE /services/{id}
func (s *Server) handleDisableService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.DisableService(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSLOs handles GET /services/{id}/slos
func (s *Server) handleListSLOs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	includeDisabled, _ := strconv.ParseBool(r.URL.Query().Get("include_disabled"))

	slos, err := s.app.ListSLOs(r.Context(), id, includeDisabled)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, slos)
}

// handleSLOStatus handles GET /services/{id}/slo-status
func (s *Server) handleSLOStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	statuses, err := s.app.SLOStatuses(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// handleErrorBudget handles GET /services/{id}/error-budget
func (s *Server) handleErrorBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	evals, err := s.app.ErrorBudgets(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	budgets := make([]ErrorBudgetResponse, 0, len(evals))
	for _, e := range evals {
		budgets = append(budgets, newErrorBudgetResponse(e))
	}
	respondJSON(w, http.StatusOK, budgets)
}

// handleCreateSLO handles POST /slos
func (s *Server) handleCreateSLO(w http.ResponseWriter, r *http.Request) {
	var o slo.SLO
	if !decodeJSON(w, r, &o) {
		return
	}
	o.ID = 0
	o.Disabled = false

	if err := s.app.CreateSLO(r.Context(), &o); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// handleGetSLO handles GET /slos/{id}
func (s *Server) handleGetSLO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	o, err := s.app.GetSLO(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// handleUpdateSLO handles PUT /slos/{id}
func (s *Server) handleUpdateSLO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var o slo.SLO
	if !decodeJSON(w, r, &o) {
		return
	}
	o.ID = id

	if err := s.app.UpdateSLO(r.Context(), &o); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// handleDisableSLO handles DELETE /slos/{id}
func (s *Server) handleDisableSLO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.DisableSLO(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeployCheck handles GET /deploy-check?service=&env=
func (s *Server) handleDeployCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service := q.Get("service")
	env := slo.Environment(q.Get("env"))

	if service == "" || env == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "service and env query parameters are required")
		return
	}
	if !env.Valid() {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("unknown environment %q", env))
		return
	}

	check, err := s.app.DeployCheck(r.Context(), service, env)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// handleIngest handles POST /metrics/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, CodeRateLimited, "ingest rate limit exceeded")
		return
	}

	var req IngestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, validationMessage(err))
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidSample, "timestamp must be RFC3339")
		return
	}

	id, err := s.app.Ingest(r.Context(), app.Metric{
		ServiceID:  req.ServiceID,
		SLOID:      req.SLOID,
		Timestamp:  ts,
		Value:      req.Value,
		MetricType: app.MetricType(req.MetricType),
		Good:       req.Good,
		Total:      req.Total,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, IngestResponse{Status: "accepted", ID: id})
}

// Helper functions

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// respondErr maps domain errors to HTTP status codes.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, metricstore.ErrInvalidSample):
		respondError(w, http.StatusBadRequest, CodeInvalidSample, err.Error())
	case errors.Is(err, slo.ErrInvalid):
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeUnknownEntity, err.Error())
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, app.ErrTimeout):
		s.logger.Warn("request timed out", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusGatewayTimeout, CodeTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
