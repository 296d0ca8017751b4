package insight

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
)

// Summary is the condensed financial picture sent to the generator.
type Summary struct {
	Scope         string
	Currency      string
	Income        decimal.Decimal
	Expenses      decimal.Decimal
	Net           decimal.Decimal
	TopCategories aggregate.Breakdown
	Budgets       []BudgetLine
	Goals         []GoalLine
}

type BudgetLine struct {
	Name       string
	Percentage decimal.Decimal
	Status     string
}

type GoalLine struct {
	Name     string
	Progress decimal.Decimal
	Achieved bool
}

const topCategories = 5

// BuildSummary condenses the views of one scope.
func BuildSummary(scope core.Scope, v aggregate.Views, currency string) Summary {
	s := Summary{
		Scope:    scope.Key(),
		Currency: currency,
		Income:   v.MonthToDate.Income,
		Expenses: v.MonthToDate.Expenses,
		Net:      v.MonthToDate.Net,
	}
	sorted := v.Categories.Sorted()
	if len(sorted) > topCategories {
		sorted = sorted[:topCategories]
	}
	s.TopCategories = sorted
	for _, b := range v.Budgets {
		s.Budgets = append(s.Budgets, BudgetLine{Name: b.Budget.Name, Percentage: b.Percentage, Status: b.Status.String()})
	}
	for _, g := range v.Savings {
		s.Goals = append(s.Goals, GoalLine{Name: g.Goal.Name, Progress: g.Progress, Achieved: g.Achieved})
	}
	return s
}

// Prompt renders the summary as the text sent to the generator. Equal
// summaries give equal prompts, which is what the memo cache keys on.
func (s Summary) Prompt() string {
	money := func(d decimal.Decimal) string { return core.FormatAmount(d, s.Currency) }

	var b strings.Builder
	b.WriteString("You are a personal finance assistant. Give three short, practical tips in markdown based on this month's numbers.\n\n")
	fmt.Fprintf(&b, "Income this month: %s\n", money(s.Income))
	fmt.Fprintf(&b, "Spending this month: %s\n", money(s.Expenses))
	fmt.Fprintf(&b, "Net: %s\n", money(s.Net))

	if len(s.TopCategories) > 0 {
		b.WriteString("\nTop spending categories:\n")
		for _, e := range s.TopCategories {
			fmt.Fprintf(&b, "- %s: %s (%d expenses)\n", e.Label, money(e.Amount), e.Count)
		}
	}
	if len(s.Budgets) > 0 {
		b.WriteString("\nBudgets:\n")
		for _, l := range s.Budgets {
			fmt.Fprintf(&b, "- %s: %s%% used (%s)\n", l.Name, l.Percentage.StringFixed(0), l.Status)
		}
	}
	if len(s.Goals) > 0 {
		b.WriteString("\nSavings goals:\n")
		for _, g := range s.Goals {
			state := "in progress"
			if g.Achieved {
				state = "achieved"
			}
			fmt.Fprintf(&b, "- %s: %s%% (%s)\n", g.Name, g.Progress.StringFixed(0), state)
		}
	}
	return b.String()
}
