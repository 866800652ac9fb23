package api

import (
	"time"

	"github.com/AwesomeGRV/ErrorBudget/internal/policy"
)

// Error codes of ErrorResponse.
const (
	CodeInvalidRequest = "InvalidRequest"
	CodeInvalidSample  = "InvalidSample"
	CodeUnknownEntity  = "UnknownEntity"
	CodeConflict       = "Conflict"
	CodeTimeout        = "Timeout"
	CodeRateLimited    = "RateLimited"
	CodeInternal       = "Internal"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// IngestRequest is one metric pushed by a client
type IngestRequest struct {
	ServiceID  int64    `json:"service_id" validate:"required,gt=0"`
	SLOID      int64    `json:"slo_id" validate:"required,gt=0"`
	Timestamp  string   `json:"timestamp" validate:"required"`
	Value      float64  `json:"value"`
	MetricType string   `json:"metric_type" validate:"required,oneof=success error ratio latency counts total"`
	Good       *float64 `json:"good,omitempty" validate:"omitempty,gte=0"`
	Total      *float64 `json:"total,omitempty" validate:"omitempty,gt=0"`
}

// IngestResponse acknowledges an accepted metric
type IngestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// ErrorBudgetResponse is the budget of one SLO
type ErrorBudgetResponse struct {
	SLOID            int64     `json:"slo_id"`
	SLOName          string    `json:"slo_name"`
	Undefined        bool      `json:"undefined"`
	TotalBudget      float64   `json:"total_budget"`
	ConsumedBudget   float64   `json:"consumed_budget"`
	RemainingBudget  float64   `json:"remaining_budget"`
	RemainingPercent float64   `json:"remaining_percent"`
	CurrentBurnRate  float64   `json:"current_burn_rate"`
	FiveMinuteBurn   float64   `json:"five_minute_burn"`
	OneHourBurn      float64   `json:"one_hour_burn"`
	SixHourBurn      float64   `json:"six_hour_burn"`
	TwentyFourHour   float64   `json:"twenty_four_hour_burn"`
	TimeToExhaustion float64   `json:"time_to_exhaustion"`
	LastUpdated      time.Time `json:"last_updated"`
}

func newErrorBudgetResponse(e policy.SLOEvaluation) ErrorBudgetResponse {
	b := e.Budget
	remaining := b.TotalAllowedErrors - b.ConsumedErrors
	if remaining < 0 {
		remaining = 0
	}
	return ErrorBudgetResponse{
		SLOID:            e.SLO.ID,
		SLOName:          e.SLO.Name,
		Undefined:        b.Undefined,
		TotalBudget:      b.TotalAllowedErrors,
		ConsumedBudget:   b.ConsumedErrors,
		RemainingBudget:  remaining,
		RemainingPercent: b.RemainingPct,
		CurrentBurnRate:  b.CurrentBurnRate,
		FiveMinuteBurn:   b.BurnRate("5m"),
		OneHourBurn:      b.BurnRate("1h"),
		SixHourBurn:      b.BurnRate("6h"),
		TwentyFourHour:   b.BurnRate("24h"),
		TimeToExhaustion: b.TimeToExhaustion,
		LastUpdated:      b.AsOf,
	}
}
