// Package report packages aggregate views into named, exportable report
// descriptors.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
)

const (
	IDCashFlow          = "cash-flow"
	IDCategoryBreakdown = "category-breakdown"
	IDIncomeSources     = "income-sources"
	IDSavingsProgress   = "savings-progress"
	IDBudgetPerformance = "budget-performance"
	IDPaymentMethods    = "payment-methods"
	IDSpendingTrend     = "spending-trend"
)

// IDs lists every report in presentation order.
var IDs = []string{
	IDCashFlow,
	IDCategoryBreakdown,
	IDIncomeSources,
	IDSavingsProgress,
	IDBudgetPerformance,
	IDPaymentMethods,
	IDSpendingTrend,
}

// Table is flat tabular report data: a header and one row per entry.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

type Descriptor struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	GeneratedAt time.Time `json:"generated_at"`
	Data        Table     `json:"data"`
}

// Assemble builds every descriptor from one recompute's views. Descriptors
// are rebuilt from scratch each time, stamped with generatedAt.
func Assemble(v aggregate.Views, generatedAt time.Time, currency string) []Descriptor {
	return []Descriptor{
		{
			ID:          IDCashFlow,
			Title:       "Cash Flow",
			Category:    "overview",
			Description: fmt.Sprintf("Income against spending per month; month to date net %s.", core.FormatAmount(v.MonthToDate.Net, currency)),
			GeneratedAt: generatedAt,
			Data:        cashFlowTable(v.Monthly),
		},
		{
			ID:          IDCategoryBreakdown,
			Title:       "Spending by Category",
			Category:    "spending",
			Description: "Total spent and number of expenses per category.",
			GeneratedAt: generatedAt,
			Data:        breakdownTable("category", v.Categories, currency),
		},
		{
			ID:          IDIncomeSources,
			Title:       "Income Sources",
			Category:    "income",
			Description: "Total received per income source.",
			GeneratedAt: generatedAt,
			Data:        breakdownTable("source", v.IncomeSources, currency),
		},
		{
			ID:          IDSavingsProgress,
			Title:       "Savings Goals",
			Category:    "savings",
			Description: "Progress of every savings goal towards its target.",
			GeneratedAt: generatedAt,
			Data:        savingsTable(v.Savings),
		},
		{
			ID:          IDBudgetPerformance,
			Title:       "Budget Performance",
			Category:    "budgets",
			Description: "Spend against each active budget over its period.",
			GeneratedAt: generatedAt,
			Data:        budgetTable(v.Budgets),
		},
		{
			ID:          IDPaymentMethods,
			Title:       "Payment Methods",
			Category:    "spending",
			Description: "Total spent per payment method.",
			GeneratedAt: generatedAt,
			Data:        breakdownTable("payment_method", v.PaymentMethods, currency),
		},
		{
			ID:          IDSpendingTrend,
			Title:       "Spending Trend",
			Category:    "spending",
			Description: fmt.Sprintf("Daily spending over the last %d days.", len(v.Trend)),
			GeneratedAt: generatedAt,
			Data:        trendTable(v.Trend),
		},
	}
}

// Find returns the descriptor with the given id.
func Find(descriptors []Descriptor, id string) (Descriptor, error) {
	for _, d := range descriptors {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", core.ErrUnknownReport, id)
}

func amountCell(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func cashFlowTable(months []aggregate.MonthFlow) Table {
	t := Table{Columns: []string{"month", "income", "expenses", "net"}, Rows: [][]string{}}
	for _, m := range months {
		t.Rows = append(t.Rows, []string{m.Month, amountCell(m.Income), amountCell(m.Expenses), amountCell(m.Net)})
	}
	return t
}

// breakdownTable keeps the breakdown's insertion order.
func breakdownTable(label string, b aggregate.Breakdown, currency string) Table {
	t := Table{Columns: []string{label, "amount", "count", "share", "display"}, Rows: [][]string{}}
	total := b.Total()
	for _, e := range b {
		share := decimal.Zero
		if total.IsPositive() {
			share = e.Amount.Div(total).Mul(decimal.NewFromInt(100))
		}
		t.Rows = append(t.Rows, []string{
			e.Label,
			amountCell(e.Amount),
			strconv.Itoa(e.Count),
			share.StringFixed(1),
			core.FormatAmount(e.Amount, currency),
		})
	}
	return t
}

func savingsTable(goals []aggregate.GoalProgress) Table {
	t := Table{
		Columns: []string{"goal", "priority", "target", "current", "remaining", "progress", "target_date", "achieved"},
		Rows:    [][]string{},
	}
	for _, g := range goals {
		targetDate := ""
		if g.Goal.TargetDate != nil {
			targetDate = g.Goal.TargetDate.Key()
		}
		t.Rows = append(t.Rows, []string{
			g.Goal.Name,
			string(g.Goal.Priority),
			amountCell(g.Goal.Target),
			amountCell(g.Goal.Current),
			amountCell(g.Remaining),
			g.Progress.StringFixed(1),
			targetDate,
			strconv.FormatBool(g.Achieved),
		})
	}
	return t
}

// budgetTable lists budgets in definition order.
func budgetTable(budgets []aggregate.BudgetStatus) Table {
	t := Table{
		Columns: []string{"budget", "start", "end", "amount", "spent", "remaining", "percentage", "status"},
		Rows:    [][]string{},
	}
	for _, b := range budgets {
		t.Rows = append(t.Rows, []string{
			b.Budget.Name,
			b.Budget.Start.Key(),
			b.Budget.End.Key(),
			amountCell(b.Budget.Amount),
			amountCell(b.Spent),
			amountCell(b.Remaining),
			b.Percentage.StringFixed(2),
			b.Status.String(),
		})
	}
	return t
}

func trendTable(points []aggregate.TrendPoint) Table {
	t := Table{Columns: []string{"date", "total", "count"}, Rows: [][]string{}}
	for _, p := range points {
		t.Rows = append(t.Rows, []string{p.Date.Key(), amountCell(p.Total), strconv.Itoa(p.Count)})
	}
	return t
}
