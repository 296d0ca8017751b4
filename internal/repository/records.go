package repository

import (
	"context"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// PartitionFilters scopes tables that carry a group reference: personal
// rows are the principal's rows without a group, group rows are the rows
// of that group regardless of author.
func PartitionFilters(scope core.Scope) []store.Filter {
	if scope.IsGroup() {
		return []store.Filter{store.Eq("group_id", scope.GroupID)}
	}
	return []store.Filter{store.Eq("owner", scope.Principal), store.IsNull("group_id")}
}

// MemberFilters scopes owner-keyed tables: a group sees the rows of every
// member.
func MemberFilters(scope core.Scope) []store.Filter {
	if scope.IsGroup() {
		return []store.Filter{store.In("owner", scope.Members...)}
	}
	return []store.Filter{store.Eq("owner", scope.Principal)}
}

// GroupFilters selects the active group's own row. Personal scopes have
// none.
func GroupFilters(scope core.Scope) []store.Filter {
	if !scope.IsGroup() {
		return nil
	}
	return []store.Filter{store.Eq("id", scope.GroupID)}
}

func ownsPartition(scope core.Scope, owner string, groupID *string) bool {
	if !scope.Owns(groupID) {
		return false
	}
	return scope.IsGroup() || owner == scope.Principal
}

func ownsMember(scope core.Scope, owner string) bool {
	if !scope.IsGroup() {
		return owner == scope.Principal
	}
	for _, m := range scope.Members {
		if m == owner {
			return true
		}
	}
	return false
}

var byDate = []store.Order{{Column: "date"}, {Column: "id"}}

func NewExpenses(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.Expense] {
	return newRepository(config[core.Expense]{
		table:    store.TableExpenses,
		filters:  PartitionFilters,
		decode:   DecodeExpense,
		validate: core.Expense.Validate,
		owns:     func(s core.Scope, e core.Expense) bool { return ownsPartition(s, e.Owner, e.GroupID) },
		order:    byDate,
	}, reader, retry, logger)
}

func NewIncomes(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.Income] {
	return newRepository(config[core.Income]{
		table:    store.TableIncomes,
		filters:  PartitionFilters,
		decode:   DecodeIncome,
		validate: core.Income.Validate,
		owns:     func(s core.Scope, i core.Income) bool { return ownsPartition(s, i.Owner, i.GroupID) },
		order:    byDate,
	}, reader, retry, logger)
}

func NewCategories(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.Category] {
	return newRepository(config[core.Category]{
		table:    store.TableCategories,
		filters:  MemberFilters,
		decode:   DecodeCategory,
		validate: core.Category.Validate,
		owns:     func(s core.Scope, c core.Category) bool { return ownsMember(s, c.Owner) },
		order:    []store.Order{{Column: "name"}, {Column: "id"}},
	}, reader, retry, logger)
}

// NewBudgets keeps budgets in definition order: by period start, then id.
func NewBudgets(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.Budget] {
	return newRepository(config[core.Budget]{
		table:    store.TableBudgets,
		filters:  PartitionFilters,
		decode:   DecodeBudget,
		validate: core.Budget.Validate,
		owns:     func(s core.Scope, b core.Budget) bool { return ownsPartition(s, b.Owner, b.GroupID) },
		order:    []store.Order{{Column: "start_date"}, {Column: "id"}},
	}, reader, retry, logger)
}

func NewSavingsGoals(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.SavingsGoal] {
	return newRepository(config[core.SavingsGoal]{
		table:    store.TableSavingsGoals,
		filters:  MemberFilters,
		decode:   DecodeSavingsGoal,
		validate: core.SavingsGoal.Validate,
		owns:     func(s core.Scope, g core.SavingsGoal) bool { return ownsMember(s, g.Owner) },
		order:    []store.Order{{Column: "id"}},
	}, reader, retry, logger)
}

// NewGroups reads group rows; the filters depend on the caller, so the
// repository is used through FetchWhere.
func NewGroups(reader store.Reader, retry Retry, logger *log.Logger) *Repository[core.Group] {
	return newRepository(config[core.Group]{
		table:   store.TableGroups,
		filters: GroupFilters,
		decode:  DecodeGroup,
		order:   []store.Order{{Column: "name"}, {Column: "id"}},
	}, reader, retry, logger)
}

// FetchWhere selects with explicit filters instead of scope filters.
func (r *Repository[T]) FetchWhere(ctx context.Context, filters []store.Filter) ([]T, error) {
	clone := *r
	clone.filters = func(core.Scope) []store.Filter { return filters }
	clone.owns = nil
	clone.snapshot = nil
	return clone.Fetch(ctx, core.Scope{})
}

// Batch is the result of fetching one table, applied later by the
// snapshot owner.
type Batch struct {
	Table store.Table
	rows  any
}

// Len reports the number of rows in the batch.
func (b Batch) Len() int {
	switch rows := b.rows.(type) {
	case []core.Expense:
		return len(rows)
	case []core.Income:
		return len(rows)
	case []core.Category:
		return len(rows)
	case []core.Budget:
		return len(rows)
	case []core.SavingsGoal:
		return len(rows)
	default:
		return 0
	}
}

// Set holds the five record repositories of a workspace.
type Set struct {
	Expenses     *Repository[core.Expense]
	Incomes      *Repository[core.Income]
	Categories   *Repository[core.Category]
	Budgets      *Repository[core.Budget]
	SavingsGoals *Repository[core.SavingsGoal]
}

func NewSet(reader store.Reader, retry Retry, logger *log.Logger) *Set {
	return &Set{
		Expenses:     NewExpenses(reader, retry, logger),
		Incomes:      NewIncomes(reader, retry, logger),
		Categories:   NewCategories(reader, retry, logger),
		Budgets:      NewBudgets(reader, retry, logger),
		SavingsGoals: NewSavingsGoals(reader, retry, logger),
	}
}

// Filters returns the scope filters of a record table.
func (s *Set) Filters(table store.Table, scope core.Scope) ([]store.Filter, error) {
	switch table {
	case store.TableExpenses:
		return s.Expenses.Filters(scope), nil
	case store.TableIncomes:
		return s.Incomes.Filters(scope), nil
	case store.TableCategories:
		return s.Categories.Filters(scope), nil
	case store.TableBudgets:
		return s.Budgets.Filters(scope), nil
	case store.TableSavingsGoals:
		return s.SavingsGoals.Filters(scope), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
}

// Fetch loads one table for scope without touching any snapshot.
func (s *Set) Fetch(ctx context.Context, table store.Table, scope core.Scope) (Batch, error) {
	var (
		rows any
		err  error
	)
	switch table {
	case store.TableExpenses:
		rows, err = s.Expenses.Fetch(ctx, scope)
	case store.TableIncomes:
		rows, err = s.Incomes.Fetch(ctx, scope)
	case store.TableCategories:
		rows, err = s.Categories.Fetch(ctx, scope)
	case store.TableBudgets:
		rows, err = s.Budgets.Fetch(ctx, scope)
	case store.TableSavingsGoals:
		rows, err = s.SavingsGoals.Fetch(ctx, scope)
	default:
		return Batch{}, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	if err != nil {
		return Batch{}, err
	}
	return Batch{Table: table, rows: rows}, nil
}

// Apply replaces the snapshot of the batch's table.
func (s *Set) Apply(b Batch) error {
	switch rows := b.rows.(type) {
	case []core.Expense:
		s.Expenses.Replace(rows)
	case []core.Income:
		s.Incomes.Replace(rows)
	case []core.Category:
		s.Categories.Replace(rows)
	case []core.Budget:
		s.Budgets.Replace(rows)
	case []core.SavingsGoal:
		s.SavingsGoals.Replace(rows)
	default:
		return fmt.Errorf("%w: %s", core.ErrUnknownTable, b.Table)
	}
	return nil
}

// Clear drops every snapshot.
func (s *Set) Clear() {
	s.Expenses.Clear()
	s.Incomes.Clear()
	s.Categories.Clear()
	s.Budgets.Clear()
	s.SavingsGoals.Clear()
}

// Loaded reports whether every table has been fetched since the last Clear.
func (s *Set) Loaded() bool {
	return s.Expenses.Loaded() && s.Incomes.Loaded() && s.Categories.Loaded() &&
		s.Budgets.Loaded() && s.SavingsGoals.Loaded()
}
