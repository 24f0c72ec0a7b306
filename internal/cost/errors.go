package cost

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BudgetExceededError is returned when the breaker is HALTED or when a
// projected spend would cross the halt threshold. It is not retryable.
type BudgetExceededError struct {
	CurrentSpend decimal.Decimal
	BudgetLimit  decimal.Decimal
	PercentUsed  float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: $%s of $%s (%.1f%% used)",
		e.CurrentSpend.StringFixed(2), e.BudgetLimit.StringFixed(2), e.PercentUsed*100)
}
