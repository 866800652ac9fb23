package policy

import (
	"time"

	"github.com/AwesomeGRV/ErrorBudget/internal/eval"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/status"
)

// Decision represents a deploy gate decision
type Decision string

const (
	DecisionSafe    Decision = "SAFE"
	DecisionRisky   Decision = "RISKY"
	DecisionBlocked Decision = "BLOCKED"
)

// Gate reasons.
const (
	ReasonNoSLOs           = "No SLOs defined for this service"
	ReasonBudgetLow        = "Error budget critically low"
	ReasonHighBurn         = "High burn rate detected"
	ReasonRecentBreach     = "Recent SLO breach detected"
	ReasonDegraded         = "SLO status degraded"
	ReasonInsufficientData = "Insufficient data to evaluate SLO status"
	ReasonHealthy          = "SLO status healthy"
)

// SLOEvaluation is one SLO with its computed budget and status
type SLOEvaluation struct {
	SLO    slo.SLO
	Budget *eval.ErrorBudget
	Result status.Result
}

// Input is everything the gate decides on
type Input struct {
	Service         slo.Service
	Evaluations     []SLOEvaluation
	RecentIncidents bool
	LastBreach      *time.Time
	AsOf            time.Time
}

// DeployCheck is the gate's answer for one service
type DeployCheck struct {
	ServiceName     string        `json:"service_name"`
	Environment     string        `json:"environment"`
	Decision        Decision      `json:"decision"`
	Reason          string        `json:"reason"`
	Status          status.Status `json:"status"`
	RemainingBudget float64       `json:"remaining_budget"`
	BurnRate        float64       `json:"burn_rate"`
	RecentIncidents bool          `json:"recent_incidents"`
	LastSLOBreach   *time.Time    `json:"last_slo_breach,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
	Details         []string      `json:"details"`
}
