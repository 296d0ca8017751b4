package aggregate

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type CashFlow struct {
	Range        string          `json:"range"`
	Income       decimal.Decimal `json:"income"`
	Expenses     decimal.Decimal `json:"expenses"`
	Net          decimal.Decimal `json:"net"`
	IncomeCount  int             `json:"income_count"`
	ExpenseCount int             `json:"expense_count"`
}

// NetCashFlow is income minus spending over the days in r.
func NetCashFlow(incomes []core.Income, expenses []core.Expense, r DateRange) CashFlow {
	in, ni := sumIncomes(incomes, func(i core.Income) bool { return r.Contains(i.Date) })
	out, ne := sumExpenses(expenses, func(e core.Expense) bool { return r.Contains(e.Date) })
	return CashFlow{
		Range:        r.String(),
		Income:       in,
		Expenses:     out,
		Net:          in.Sub(out),
		IncomeCount:  ni,
		ExpenseCount: ne,
	}
}

type GoalProgress struct {
	Goal      core.SavingsGoal `json:"goal"`
	Progress  decimal.Decimal  `json:"progress"`
	Remaining decimal.Decimal  `json:"remaining"`
	Achieved  bool             `json:"achieved"`
}

// SavingsProgress reports each goal's progress. Achieved is derived from
// the amounts, never taken from the row.
func SavingsProgress(goals []core.SavingsGoal) []GoalProgress {
	out := make([]GoalProgress, 0, len(goals))
	for _, g := range goals {
		g.Achieved = g.IsAchieved()
		remaining := g.Target.Sub(g.Current)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		out = append(out, GoalProgress{
			Goal:      g,
			Progress:  g.Progress(),
			Remaining: remaining,
			Achieved:  g.Achieved,
		})
	}
	return out
}

// Views is the full output of one recompute cycle.
type Views struct {
	Trend          []TrendPoint
	Categories     Breakdown
	IncomeSources  Breakdown
	PaymentMethods Breakdown
	Budgets        []BudgetStatus
	Savings        []GoalProgress
	MonthToDate    CashFlow
	Monthly        []MonthFlow
}

// Compute runs every derivation over s.
func Compute(s Snapshot, today core.Date, trendDays int) Views {
	return Views{
		Trend:          Trend(s.Expenses, trendDays, today),
		Categories:     CategoryBreakdown(s.Expenses, s.Categories),
		IncomeSources:  IncomeBreakdown(s.Incomes),
		PaymentMethods: PaymentMethodBreakdown(s.Expenses),
		Budgets:        BudgetUtilization(s.Budgets, s.Expenses),
		Savings:        SavingsProgress(s.SavingsGoals),
		MonthToDate:    NetCashFlow(s.Incomes, s.Expenses, DateRange{From: MonthOf(today).From, To: today}),
		Monthly:        MonthlyCashFlow(s.Incomes, s.Expenses, 12, today),
	}
}
