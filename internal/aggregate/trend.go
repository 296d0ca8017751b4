package aggregate

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// DefaultTrendDays is the trailing window used when none is given.
const DefaultTrendDays = 30

type TrendPoint struct {
	Date  core.Date       `json:"date"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// Trend returns exactly windowDays daily buckets ending on today, oldest
// first. An expense lands in a bucket only when its day key equals the
// bucket's; empty days are zero buckets.
func Trend(expenses []core.Expense, windowDays int, today core.Date) []TrendPoint {
	if windowDays <= 0 {
		windowDays = DefaultTrendDays
	}
	points := make([]TrendPoint, windowDays)
	index := make(map[string]int, windowDays)
	start := today.AddDays(-(windowDays - 1))
	for i := range points {
		day := start.AddDays(i)
		points[i] = TrendPoint{Date: day, Total: decimal.Zero}
		index[day.Key()] = i
	}
	for _, e := range expenses {
		i, ok := index[e.Date.Key()]
		if !ok {
			continue
		}
		points[i].Total = points[i].Total.Add(e.Amount)
		points[i].Count++
	}
	return points
}

// MonthFlow is income against spending for one calendar month.
type MonthFlow struct {
	Month    string          `json:"month"` // YYYY-MM
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// MonthlyCashFlow returns one entry per month for the months calendar
// months ending with today's, oldest first.
func MonthlyCashFlow(incomes []core.Income, expenses []core.Expense, months int, today core.Date) []MonthFlow {
	if months <= 0 {
		months = 12
	}
	flows := make([]MonthFlow, months)
	index := make(map[string]int, months)
	first := core.NewDate(today.Year(), int(today.Month()), 1)
	for i := range flows {
		key := first.AddDate(0, i-(months-1), 0).Format("2006-01")
		flows[i] = MonthFlow{Month: key, Income: decimal.Zero, Expenses: decimal.Zero}
		index[key] = i
	}
	for _, in := range incomes {
		if i, ok := index[in.Date.Format("2006-01")]; ok {
			flows[i].Income = flows[i].Income.Add(in.Amount)
		}
	}
	for _, e := range expenses {
		if i, ok := index[e.Date.Format("2006-01")]; ok {
			flows[i].Expenses = flows[i].Expenses.Add(e.Amount)
		}
	}
	for i := range flows {
		flows[i].Net = flows[i].Income.Sub(flows[i].Expenses)
	}
	return flows
}
