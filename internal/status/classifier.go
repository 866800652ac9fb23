package status

import (
	"fmt"

	"github.com/AwesomeGRV/ErrorBudget/internal/eval"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

// DegradedRemainingPct is the remaining budget below which an SLO is degraded
const DegradedRemainingPct = 50.0

// BurnRule fires when both windows burn at or above Threshold
type BurnRule struct {
	Name        string
	ShortWindow eval.Window
	LongWindow  eval.Window
	Threshold   float64
}

// FastBurnRule confirms a fast burn over 5m and 1h
func FastBurnRule(threshold float64) BurnRule {
	return BurnRule{Name: "fast-burn", ShortWindow: eval.Window5m, LongWindow: eval.Window1h, Threshold: threshold}
}

// SlowBurnRule confirms a slow burn over 6h and 24h
func SlowBurnRule(threshold float64) BurnRule {
	return BurnRule{Name: "slow-burn", ShortWindow: eval.Window6h, LongWindow: eval.Window24h, Threshold: threshold}
}

// RuleResult is the outcome of a BurnRule
type RuleResult struct {
	Rule          BurnRule
	Triggered     bool
	ShortBurnRate float64
	LongBurnRate  float64
}

// Evaluate checks the rule against a budget
func (r BurnRule) Evaluate(b *eval.ErrorBudget) RuleResult {
	short := b.BurnRate(r.ShortWindow.Name)
	long := b.BurnRate(r.LongWindow.Name)
	return RuleResult{
		Rule:          r,
		Triggered:     short >= r.Threshold && long >= r.Threshold,
		ShortBurnRate: short,
		LongBurnRate:  long,
	}
}

func (rr RuleResult) reason() string {
	return fmt.Sprintf("%s: %s=%.2fx, %s=%.2fx (threshold=%.2fx)",
		rr.Rule.Name,
		rr.Rule.ShortWindow.Name, rr.ShortBurnRate,
		rr.Rule.LongWindow.Name, rr.LongBurnRate,
		rr.Rule.Threshold,
	)
}

// Result is a status with the reasons that produced it
type Result struct {
	Status  Status
	Reasons []string
}

// Classify maps a budget to a status using the SLO's burn thresholds
func Classify(b *eval.ErrorBudget, s slo.SLO) Result {
	if b == nil || b.Undefined {
		return Result{Status: StatusUnknown, Reasons: []string{"no events in compliance window"}}
	}

	fast := FastBurnRule(s.FastBurnThreshold).Evaluate(b)
	slow := SlowBurnRule(s.SlowBurnThreshold).Evaluate(b)

	var breached []string
	if b.RemainingPct <= 0 {
		breached = append(breached, "error budget exhausted")
	}
	if fast.Triggered {
		breached = append(breached, fast.reason())
	}
	if len(breached) > 0 {
		return Result{Status: StatusBreached, Reasons: breached}
	}

	var degraded []string
	if b.RemainingPct < DegradedRemainingPct {
		degraded = append(degraded, fmt.Sprintf("remaining budget %.2f%% below %.0f%%", b.RemainingPct, DegradedRemainingPct))
	}
	if slow.Triggered {
		degraded = append(degraded, slow.reason())
	}
	if len(degraded) > 0 {
		return Result{Status: StatusDegraded, Reasons: degraded}
	}

	return Result{Status: StatusHealthy, Reasons: []string{"all burn rate checks passed"}}
}

// NewSLOStatus builds the presentation snapshot of an SLO from its budget and classification
func NewSLOStatus(svc slo.Service, s slo.SLO, b *eval.ErrorBudget, res Result) SLOStatus {
	st := SLOStatus{
		SLOID:              s.ID,
		SLOName:            s.Name,
		ServiceName:        svc.Name,
		Target:             s.Target,
		Status:             res.Status,
		RemainingBudgetPct: b.RemainingPct,
		ConsumedBudgetPct:  b.ConsumedPct,
		CurrentBurnRate:    b.CurrentBurnRate,
		TimeToExhaustion:   b.TimeToExhaustion,
		BurnRates:          make(map[string]float64, len(b.BurnRates)),
		Reasons:            res.Reasons,
		LastUpdated:        b.AsOf,
	}
	if !b.Undefined {
		sli := b.SLI
		st.CurrentSLI = &sli
	}
	for name, br := range b.BurnRates {
		st.BurnRates[name] = br.BurnRate
	}
	return st
}
