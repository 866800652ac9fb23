package policy

import (
	"context"
	"time"

	"github.com/AwesomeGRV/ErrorBudget/internal/eval"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/status"
)

// BudgetComputer computes the budget of an SLO at an instant
type BudgetComputer interface {
	Compute(ctx context.Context, s slo.SLO, asOf time.Time) (*eval.ErrorBudget, error)
}

// IncidentScanner finds recent breaches by re-classifying SLOs at past instants.
// History is derived from samples only, so results are reproducible.
type IncidentScanner struct {
	computer BudgetComputer
	lookback time.Duration
	step     time.Duration
}

// NewIncidentScanner creates a scanner looking back lookback in steps of step
func NewIncidentScanner(computer BudgetComputer, lookback, step time.Duration) *IncidentScanner {
	if step <= 0 {
		step = 15 * time.Minute
	}
	return &IncidentScanner{computer: computer, lookback: lookback, step: step}
}

// LastBreach returns the most recent instant within the lookback, before asOf,
// at which any of slos was breached. Nil means no breach.
func (s *IncidentScanner) LastBreach(ctx context.Context, slos []slo.SLO, asOf time.Time) (*time.Time, error) {
	if s.lookback <= 0 {
		return nil, nil
	}

	for at := asOf.Add(-s.step); !at.Before(asOf.Add(-s.lookback)); at = at.Add(-s.step) {
		for _, o := range slos {
			b, err := s.computer.Compute(ctx, o, at)
			if err != nil {
				return nil, err
			}
			if status.Classify(b, o).Status == status.StatusBreached {
				breach := at
				return &breach, nil
			}
		}
	}

	return nil, nil
}
