// Package aggregate derives views from repository snapshots. Every function
// is pure: identical inputs give identical outputs and nothing does I/O.
package aggregate

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Snapshot is the set of rows a recompute cycle works on.
type Snapshot struct {
	Expenses     []core.Expense
	Incomes      []core.Income
	Categories   []core.Category
	Budgets      []core.Budget
	SavingsGoals []core.SavingsGoal
}

// DateRange is an inclusive day interval. A zero bound is open.
type DateRange struct {
	From core.Date
	To   core.Date
}

// AllTime matches every day.
var AllTime = DateRange{}

// LastDays is the range of n days ending on today.
func LastDays(today core.Date, n int) DateRange {
	if n <= 0 {
		n = 1
	}
	return DateRange{From: today.AddDays(-(n - 1)), To: today}
}

// MonthOf is the calendar month containing day.
func MonthOf(day core.Date) DateRange {
	first := core.NewDate(day.Year(), int(day.Month()), 1)
	return DateRange{From: first, To: core.DateOf(first.AddDate(0, 1, -1))}
}

func (r DateRange) Contains(day core.Date) bool {
	if !r.From.IsZero() && day.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && day.After(r.To) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	from, to := "*", "*"
	if !r.From.IsZero() {
		from = r.From.Key()
	}
	if !r.To.IsZero() {
		to = r.To.Key()
	}
	return from + ".." + to
}

var hundred = decimal.NewFromInt(100)

func sumExpenses(expenses []core.Expense, keep func(core.Expense) bool) (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, e := range expenses {
		if keep(e) {
			total = total.Add(e.Amount)
			n++
		}
	}
	return total, n
}

func sumIncomes(incomes []core.Income, keep func(core.Income) bool) (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, i := range incomes {
		if keep(i) {
			total = total.Add(i.Amount)
			n++
		}
	}
	return total, n
}
