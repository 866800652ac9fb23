package eval

import "time"

// Window is a named lookback used for burn rate computation
type Window struct {
	Name     string
	Duration time.Duration
}

// Burn rate windows, shortest first.
var (
	Window5m  = Window{Name: "5m", Duration: 5 * time.Minute}
	Window1h  = Window{Name: "1h", Duration: time.Hour}
	Window6h  = Window{Name: "6h", Duration: 6 * time.Hour}
	Window24h = Window{Name: "24h", Duration: 24 * time.Hour}

	BurnWindows = []Window{Window5m, Window1h, Window6h, Window24h}
)

// CurrentBurnWindow is the window reported as the current burn rate
var CurrentBurnWindow = Window1h

// SLIResult represents the computed SLI value
type SLIResult struct {
	Value            float64
	ErrorRate        float64
	InsufficientData bool
	Reason           string
}

// BurnRateResult represents burn rate computation for a window
type BurnRateResult struct {
	Window    string  `json:"window"`
	Good      float64 `json:"good"`
	Total     float64 `json:"total"`
	ErrorRate float64 `json:"error_rate"`
	BurnRate  float64 `json:"burn_rate"`
}

// ErrorBudget is the budget state of one SLO at one instant
type ErrorBudget struct {
	SLOID int64     `json:"slo_id"`
	AsOf  time.Time `json:"as_of"`

	// Undefined is set when the compliance window holds no events.
	Undefined bool `json:"undefined"`

	GoodEvents  float64 `json:"good_events"`
	TotalEvents float64 `json:"total_events"`
	SLI         float64 `json:"sli"`

	TotalAllowedErrors float64 `json:"total_allowed_errors"`
	ConsumedErrors     float64 `json:"consumed_errors"`
	RemainingPct       float64 `json:"remaining_budget_pct"`
	ConsumedPct        float64 `json:"consumed_budget_pct"`

	BurnRates       map[string]BurnRateResult `json:"burn_rates"`
	CurrentBurnRate float64                   `json:"current_burn_rate"`

	// TimeToExhaustion is in days, -1 when the budget is not burning.
	TimeToExhaustion float64 `json:"time_to_exhaustion"`
}

// BurnRate returns the burn rate of the named window, 0 if absent
func (b *ErrorBudget) BurnRate(window string) float64 {
	if b == nil {
		return 0
	}
	return b.BurnRates[window].BurnRate
}
