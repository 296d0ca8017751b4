// Package workspace holds the active scope and the repository snapshots
// that belong to it.
package workspace

import (
	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/repository"
	"fintrack/internal/store"
)

// Context is owned by a single goroutine; none of its methods are
// synchronized. Every scope switch bumps the generation so results fetched
// for an earlier scope can be recognized and discarded.
type Context struct {
	principal  string
	scope      core.Scope
	generation uint64
	repos      *repository.Set
}

// New starts in the principal's personal scope at generation zero, with
// nothing loaded.
func New(principal string, repos *repository.Set) *Context {
	return &Context{
		principal: principal,
		scope:     core.Personal(principal),
		repos:     repos,
	}
}

func (c *Context) Principal() string {
	return c.principal
}

func (c *Context) Scope() core.Scope {
	return c.scope
}

func (c *Context) Generation() uint64 {
	return c.generation
}

// Current reports whether gen is the active generation.
func (c *Context) Current(gen uint64) bool {
	return gen == c.generation
}

// Switch clears every snapshot, installs scope and returns the new
// generation. Callers tear down the previous scope's subscriptions first.
func (c *Context) Switch(scope core.Scope) uint64 {
	c.repos.Clear()
	c.scope = scope
	c.generation++
	return c.generation
}

// Filters returns the predicates for table in the active scope.
func (c *Context) Filters(table store.Table) ([]store.Filter, error) {
	if table == store.TableGroups {
		return repository.GroupFilters(c.scope), nil
	}
	return c.repos.Filters(table, c.scope)
}

// Apply installs a fetched batch if it was fetched for gen. It reports
// whether the batch was applied.
func (c *Context) Apply(gen uint64, b repository.Batch) (bool, error) {
	if !c.Current(gen) {
		return false, nil
	}
	if err := c.repos.Apply(b); err != nil {
		return false, err
	}
	return true, nil
}

// Loaded reports whether every table has been fetched for the active scope.
func (c *Context) Loaded() bool {
	return c.repos.Loaded()
}

// Snapshot copies the current rows for a recompute cycle.
func (c *Context) Snapshot() aggregate.Snapshot {
	return aggregate.Snapshot{
		Expenses:     c.repos.Expenses.Snapshot(),
		Incomes:      c.repos.Incomes.Snapshot(),
		Categories:   c.repos.Categories.Snapshot(),
		Budgets:      c.repos.Budgets.Snapshot(),
		SavingsGoals: c.repos.SavingsGoals.Snapshot(),
	}
}
