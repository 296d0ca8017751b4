package engine

import (
	"time"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/insight"
	"fintrack/internal/report"
	"fintrack/internal/store"
)

// state is one published result. It is never mutated after publish.
type state struct {
	scope         core.Scope
	generation    uint64
	cycles        uint64
	loaded        bool
	stale         bool
	degraded      bool
	failed        map[store.Table]string
	subscriptions int
	computedAt    time.Time
	today         core.Date
	snapshot      aggregate.Snapshot
	views         aggregate.Views
	reports       []report.Descriptor
}

// publish builds a state from the loop-owned fields. Only the loop calls it.
func (e *Engine) publish() {
	now := e.clock()
	today := core.DateOf(now)
	snap := e.ws.Snapshot()
	views := aggregate.Compute(snap, today, e.trendDays)

	failed := make(map[store.Table]string, len(e.failed))
	for t, err := range e.failed {
		failed[t] = err.Error()
	}
	e.published.Store(&state{
		scope:         e.ws.Scope(),
		generation:    e.ws.Generation(),
		cycles:        e.cycles,
		loaded:        e.ws.Loaded(),
		stale:         len(e.failed) > 0 || e.degraded,
		degraded:      e.degraded,
		failed:        failed,
		subscriptions: e.handles.Len(),
		computedAt:    now,
		today:         today,
		snapshot:      snap,
		views:         views,
		reports:       report.Assemble(views, now, e.currency),
	})
}

func (e *Engine) current() *state {
	return e.published.Load()
}

// Status describes the freshness of the published views.
type Status struct {
	Scope         string            `json:"scope"`
	Generation    uint64            `json:"generation"`
	Cycles        uint64            `json:"cycles"`
	Discarded     uint64            `json:"discarded"`
	Loaded        bool              `json:"loaded"`
	Stale         bool              `json:"stale"`
	Degraded      bool              `json:"degraded"`
	Failed        map[string]string `json:"failed,omitempty"`
	Subscriptions int               `json:"subscriptions"`
	ComputedAt    time.Time         `json:"computed_at"`
}

func (e *Engine) Status() Status {
	st := e.current()
	s := Status{
		Scope:         st.scope.Key(),
		Generation:    st.generation,
		Cycles:        st.cycles,
		Discarded:     e.discarded.Load(),
		Loaded:        st.loaded,
		Stale:         st.stale,
		Degraded:      st.degraded,
		Subscriptions: st.subscriptions,
		ComputedAt:    st.computedAt,
	}
	if len(st.failed) > 0 {
		s.Failed = make(map[string]string, len(st.failed))
		for t, msg := range st.failed {
			s.Failed[string(t)] = msg
		}
	}
	return s
}

// Views returns every derived view of the last recompute.
func (e *Engine) Views() aggregate.Views {
	return e.current().views
}

// Trend returns daily spending totals for the last windowDays days ending
// today. A non-positive window uses the default of 30 days.
func (e *Engine) Trend(windowDays int) []aggregate.TrendPoint {
	st := e.current()
	today := core.DateOf(e.clock())
	if windowDays <= 0 {
		windowDays = aggregate.DefaultTrendDays
	}
	if windowDays == e.trendDays && today.Key() == st.today.Key() {
		return st.views.Trend
	}
	return aggregate.Trend(st.snapshot.Expenses, windowDays, today)
}

func (e *Engine) CategoryBreakdown() aggregate.Breakdown {
	return e.current().views.Categories
}

func (e *Engine) IncomeBreakdown() aggregate.Breakdown {
	return e.current().views.IncomeSources
}

func (e *Engine) PaymentMethodBreakdown() aggregate.Breakdown {
	return e.current().views.PaymentMethods
}

func (e *Engine) BudgetStatus() []aggregate.BudgetStatus {
	return e.current().views.Budgets
}

// CashFlow is net income over r. Zero bounds are open.
func (e *Engine) CashFlow(r aggregate.DateRange) aggregate.CashFlow {
	st := e.current()
	return aggregate.NetCashFlow(st.snapshot.Incomes, st.snapshot.Expenses, r)
}

func (e *Engine) MonthlyCashFlow() []aggregate.MonthFlow {
	return e.current().views.Monthly
}

func (e *Engine) SavingsProgress() []aggregate.GoalProgress {
	return e.current().views.Savings
}

// Reports returns the descriptors of the last recompute in definition
// order.
func (e *Engine) Reports() []report.Descriptor {
	return e.current().reports
}

// Summary condenses the current views for an insight request.
func (e *Engine) Summary() insight.Summary {
	st := e.current()
	return insight.BuildSummary(st.scope, st.views, e.currency)
}
