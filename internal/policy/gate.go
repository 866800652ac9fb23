package policy

import (
	"fmt"
	"sort"

	"github.com/AwesomeGRV/ErrorBudget/internal/status"
)

// Gate turns SLO evaluations into a deploy decision. It holds no state and
// the same Input always yields the same DeployCheck.
type Gate struct{}

// NewGate creates a deploy gate
func NewGate() *Gate {
	return &Gate{}
}

// Evaluate decides whether deploying the service is SAFE, RISKY or BLOCKED
func (g *Gate) Evaluate(in Input) DeployCheck {
	check := DeployCheck{
		ServiceName:     in.Service.Name,
		Environment:     string(in.Service.Environment),
		Status:          status.StatusUnknown,
		RecentIncidents: in.RecentIncidents,
		LastSLOBreach:   in.LastBreach,
		CheckedAt:       in.AsOf,
		Details:         []string{},
	}

	if len(in.Evaluations) == 0 {
		check.Decision = DecisionSafe
		check.Reason = ReasonNoSLOs
		check.RemainingBudget = 100
		return check
	}

	evals := make([]SLOEvaluation, len(in.Evaluations))
	copy(evals, in.Evaluations)
	sort.SliceStable(evals, func(i, j int) bool { return worseThan(evals[i], evals[j]) })

	worst := evals[0]
	check.Status = worst.Result.Status
	check.RemainingBudget = worst.Budget.RemainingPct
	check.BurnRate = worst.Budget.CurrentBurnRate

	hardExhausted := false
	highBurn := false
	for _, e := range evals {
		check.Details = append(check.Details, fmt.Sprintf("%s: %s (remaining %.2f%%, burn %.2fx)",
			e.SLO.Name, e.Result.Status, e.Budget.RemainingPct, e.Budget.CurrentBurnRate))

		// status.Classify already marks exhausted budgets breached. This also
		// covers evaluations classified elsewhere.
		if e.SLO.HardBudgetPolicy && !e.Budget.Undefined && e.Budget.RemainingPct <= 0 {
			hardExhausted = true
			check.Details = append(check.Details, fmt.Sprintf("%s: hard budget policy, budget exhausted", e.SLO.Name))
		}
		if e.Budget.CurrentBurnRate > e.SLO.FastBurnThreshold {
			highBurn = true
			check.Details = append(check.Details, fmt.Sprintf("%s: burn %.2fx above fast threshold %.2fx",
				e.SLO.Name, e.Budget.CurrentBurnRate, e.SLO.FastBurnThreshold))
		}
	}

	switch {
	case check.Status == status.StatusBreached || hardExhausted:
		check.Decision = DecisionBlocked
		check.Reason = ReasonBudgetLow
	case highBurn:
		check.Decision = DecisionRisky
		check.Reason = ReasonHighBurn
	case in.RecentIncidents:
		check.Decision = DecisionRisky
		check.Reason = ReasonRecentBreach
	case check.Status == status.StatusDegraded:
		check.Decision = DecisionRisky
		check.Reason = ReasonDegraded
	case check.Status == status.StatusUnknown:
		check.Decision = DecisionRisky
		check.Reason = ReasonInsufficientData
	default:
		check.Decision = DecisionSafe
		check.Reason = ReasonHealthy
	}

	return check
}

// worseThan orders evaluations by status, then burn rate, then remaining budget, then id
func worseThan(a, b SLOEvaluation) bool {
	if ra, rb := a.Result.Status.Rank(), b.Result.Status.Rank(); ra != rb {
		return ra > rb
	}
	if a.Budget.CurrentBurnRate != b.Budget.CurrentBurnRate {
		return a.Budget.CurrentBurnRate > b.Budget.CurrentBurnRate
	}
	if a.Budget.RemainingPct != b.Budget.RemainingPct {
		return a.Budget.RemainingPct < b.Budget.RemainingPct
	}
	return a.SLO.ID < b.SLO.ID
}
