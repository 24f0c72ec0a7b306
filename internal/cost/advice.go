package cost

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// serviceReviewThreshold flags any single service whose monthly spend exceeds it.
var serviceReviewThreshold = decimal.NewFromInt(5)

// Recommendations turns the breaker status and monthly summary into
// operator advice. summary may be nil.
func Recommendations(status *Status, summary *MonthlySummary) []string {
	var recs []string
	if status != nil {
		switch status.State {
		case StateHalted:
			recs = append(recs,
				"CRITICAL: budget exceeded, all paid API calls are halted",
				"Wait for next month or raise BUDGET_MONTHLY_LIMIT",
			)
		case StateWarning:
			recs = append(recs,
				"Budget approaching limit, consider reducing API calls",
				"Run essential operations only",
			)
		}
	}

	if summary != nil {
		services := make([]string, 0, len(summary.Services))
		for name, spent := range summary.Services {
			if spent.GreaterThan(serviceReviewThreshold) {
				services = append(services, name)
			}
		}
		sort.Strings(services)
		for _, name := range services {
			recs = append(recs, fmt.Sprintf("%s: $%s spent, review usage", name, summary.Services[name].StringFixed(2)))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, "Operating within budget")
	}
	return recs
}
