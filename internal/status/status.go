// Package status classifies error budgets into health states.
package status

import "time"

// Status is the health of an SLO
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusBreached Status = "breached"
)

var rank = map[Status]int{
	StatusUnknown:  0,
	StatusHealthy:  1,
	StatusDegraded: 2,
	StatusBreached: 3,
}

// Rank orders statuses: unknown < healthy < degraded < breached
func (s Status) Rank() int {
	return rank[s]
}

// Worst returns the highest ranked status, unknown for none
func Worst(statuses ...Status) Status {
	worst := StatusUnknown
	for _, s := range statuses {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

// SLOStatus is the presentation snapshot of one SLO
type SLOStatus struct {
	SLOID              int64              `json:"slo_id"`
	SLOName            string             `json:"slo_name"`
	ServiceName        string             `json:"service_name"`
	Target             float64            `json:"target"`
	CurrentSLI         *float64           `json:"current_sli"`
	Status             Status             `json:"status"`
	RemainingBudgetPct float64            `json:"remaining_budget_pct"`
	ConsumedBudgetPct  float64            `json:"consumed_budget_pct"`
	CurrentBurnRate    float64            `json:"current_burn_rate"`
	TimeToExhaustion   float64            `json:"time_to_exhaustion"`
	BurnRates          map[string]float64 `json:"burn_rates"`
	Reasons            []string           `json:"reasons"`
	LastUpdated        time.Time          `json:"last_updated"`
}
