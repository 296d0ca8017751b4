package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	Uncategorized = "Uncategorized"
	OtherLabel    = "Other"
)

type Entry struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Breakdown sums amounts per label. Entries keep the order in which their
// label was first seen; Sorted gives display order.
type Breakdown []Entry

// Map returns the breakdown keyed by label.
func (b Breakdown) Map() map[string]Entry {
	m := make(map[string]Entry, len(b))
	for _, e := range b {
		m[e.Label] = e
	}
	return m
}

// Sorted returns a copy ordered by amount, largest first. Ties keep
// insertion order.
func (b Breakdown) Sorted() Breakdown {
	out := append(Breakdown(nil), b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out
}

func (b Breakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range b {
		total = total.Add(e.Amount)
	}
	return total
}

type breakdownBuilder struct {
	entries Breakdown
	index   map[string]int
}

func newBuilder() *breakdownBuilder {
	return &breakdownBuilder{index: make(map[string]int)}
}

func (bb *breakdownBuilder) add(label string, amount decimal.Decimal) {
	i, ok := bb.index[label]
	if !ok {
		i = len(bb.entries)
		bb.index[label] = i
		bb.entries = append(bb.entries, Entry{Label: label, Amount: decimal.Zero})
	}
	bb.entries[i].Amount = bb.entries[i].Amount.Add(amount)
	bb.entries[i].Count++
}

func (bb *breakdownBuilder) result() Breakdown {
	if bb.entries == nil {
		return Breakdown{}
	}
	return bb.entries
}

// CategoryBreakdown groups expenses by category name. Expenses without a
// category, or whose category is not in the snapshot, count as
// Uncategorized. Inactive categories still resolve.
func CategoryBreakdown(expenses []core.Expense, categories []core.Category) Breakdown {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	bb := newBuilder()
	for _, e := range expenses {
		label := Uncategorized
		if e.CategoryID != nil {
			if name, ok := names[*e.CategoryID]; ok && strings.TrimSpace(name) != "" {
				label = name
			}
		}
		bb.add(label, e.Amount)
	}
	return bb.result()
}

// IncomeBreakdown groups incomes by source label.
func IncomeBreakdown(incomes []core.Income) Breakdown {
	bb := newBuilder()
	for _, i := range incomes {
		bb.add(labelOr(i.Source, OtherLabel), i.Amount)
	}
	return bb.result()
}

// PaymentMethodBreakdown groups expenses by payment method.
func PaymentMethodBreakdown(expenses []core.Expense) Breakdown {
	bb := newBuilder()
	for _, e := range expenses {
		bb.add(labelOr(e.PaymentMethod, OtherLabel), e.Amount)
	}
	return bb.result()
}

func labelOr(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
