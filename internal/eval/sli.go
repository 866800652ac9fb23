package eval

import "math"

// ComputeSLI calculates the SLI value from good and total metrics
// SLI = good / total
func ComputeSLI(good, total float64) SLIResult {
	if total <= 0 {
		return SLIResult{
			InsufficientData: true,
			Reason:           "no traffic (total=0)",
		}
	}

	if good > total {
		good = total
	}
	sli := good / total

	return SLIResult{
		Value:     sli,
		ErrorRate: math.Max(0, 1-sli),
	}
}

// ComputeBurnRate calculates the burn rate from error rate and target
// burn_rate = error_rate / (1 - target)
func ComputeBurnRate(errorRate, target float64) float64 {
	errorBudget := 1 - target
	if errorBudget <= 0 {
		return 0
	}
	return errorRate / errorBudget
}

// BudgetResult is the budget arithmetic over one compliance window
type BudgetResult struct {
	Allowed      float64
	Consumed     float64
	RemainingPct float64
	ConsumedPct  float64
}

// ComputeBudget derives allowed and consumed errors from event counts.
// Remaining is clamped to [0, 100]; consumed is not bounded.
func ComputeBudget(good, total, target float64) BudgetResult {
	allowed := (1 - target) * total
	consumed := math.Max(0, total-good)

	if allowed <= 0 {
		if consumed > 0 {
			return BudgetResult{Allowed: allowed, Consumed: consumed, RemainingPct: 0, ConsumedPct: 100}
		}
		return BudgetResult{Allowed: allowed, Consumed: consumed, RemainingPct: 100, ConsumedPct: 0}
	}

	ratio := consumed / allowed
	return BudgetResult{
		Allowed:      allowed,
		Consumed:     consumed,
		RemainingPct: round6(math.Max(0, 1-ratio) * 100),
		ConsumedPct:  round6(ratio * 100),
	}
}

// TimeToExhaustion is how many days the remaining budget lasts at burnRate.
// A window of windowDays lasts exactly windowDays at burn rate 1.
func TimeToExhaustion(remainingPct, burnRate float64, windowDays int) float64 {
	if burnRate <= 0 {
		return -1
	}
	return round6((remainingPct / 100) * float64(windowDays) / burnRate)
}

func round6(v float64) float64 {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		return 0
	}
	return r
}
