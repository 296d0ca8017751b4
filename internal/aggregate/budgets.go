package aggregate

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/budget"
	"fintrack/internal/core"
)

type BudgetStatus struct {
	Budget     core.Budget     `json:"budget"`
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage decimal.Decimal `json:"percentage"`
	Count      int             `json:"count"`
	Over       bool            `json:"over"`
	Status     budget.Status   `json:"status"`
}

// BudgetUtilization measures every active budget, in the order given,
// against the expenses that fall in its period, match its category filter
// and belong to the same scope partition as the budget itself.
func BudgetUtilization(budgets []core.Budget, expenses []core.Expense) []BudgetStatus {
	out := make([]BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		if !b.Active {
			continue
		}
		spent, n := sumExpenses(expenses, func(e core.Expense) bool {
			return b.Contains(e.Date) && b.AppliesTo(e.CategoryID) && samePartition(b, e)
		})
		out = append(out, utilization(b, spent, n))
	}
	return out
}

func utilization(b core.Budget, spent decimal.Decimal, n int) BudgetStatus {
	pct := decimal.Zero
	if b.Amount.IsPositive() {
		pct = spent.Div(b.Amount).Mul(hundred)
	}
	remaining := b.Amount.Sub(spent)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	over := spent.GreaterThan(b.Amount)
	status := budget.Classify(pct, b.AlertThreshold)
	if over {
		// A zero-amount budget has percentage 0 but any spend exceeds it.
		status = budget.StatusOver
	}
	return BudgetStatus{
		Budget:     b,
		Spent:      spent,
		Remaining:  remaining,
		Percentage: pct,
		Count:      n,
		Over:       over,
		Status:     status,
	}
}

// samePartition reports whether an expense was recorded in the budget's
// scope: the same group, or both personal and by the same owner.
func samePartition(b core.Budget, e core.Expense) bool {
	if b.GroupID == nil || e.GroupID == nil {
		return b.GroupID == nil && e.GroupID == nil && b.Owner == e.Owner
	}
	return *b.GroupID == *e.GroupID
}
