// Package store defines the remote store contract the engine consumes:
// filtered selects and opaque change subscriptions per table.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Table names a record collection in the remote store.
type Table string

const (
	TableExpenses     Table = "expenses"
	TableIncomes      Table = "incomes"
	TableCategories   Table = "categories"
	TableBudgets      Table = "budgets"
	TableSavingsGoals Table = "savings_goals"
	TableGroups       Table = "groups"
)

// RecordTables are the tables every scope subscribes to. Groups are added
// for group scopes only.
var RecordTables = []Table{
	TableExpenses,
	TableIncomes,
	TableCategories,
	TableBudgets,
	TableSavingsGoals,
}

// Columns is the row shape of every table, shared by the SQL backends and
// the repository decoders.
var Columns = map[Table][]string{
	TableExpenses:     {"id", "owner", "group_id", "amount", "date", "category_id", "title", "payment_method"},
	TableIncomes:      {"id", "owner", "group_id", "amount", "date", "source"},
	TableCategories:   {"id", "owner", "name", "color", "icon", "active"},
	TableBudgets:      {"id", "owner", "group_id", "name", "amount", "start_date", "end_date", "category_id", "alert_threshold", "active"},
	TableSavingsGoals: {"id", "owner", "name", "target_amount", "current_amount", "target_date", "priority", "is_achieved"},
	TableGroups:       {"id", "owner", "name", "members"},
}

// HasColumn reports whether column belongs to table.
func HasColumn(table Table, column string) bool {
	for _, c := range Columns[table] {
		if c == column {
			return true
		}
	}
	return false
}

// AllTables lists every known table in creation order.
var AllTables = append(append([]Table(nil), RecordTables...), TableGroups)

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	for _, t := range AllTables {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown table %q", s)
}

// Row is one record as returned by the store. Values are loosely typed;
// repositories normalize them.
type Row map[string]any

// ID returns the row's id column as a string.
func (r Row) ID() string {
	return valueString(r["id"])
}

// Order sorts select results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query is a select against one table.
type Query struct {
	Table   Table
	Filters []Filter
	Order   []Order
	Limit   int
}

// Signal is the opaque "something changed" notification delivered to a
// subscription. Insert, update and delete are deliberately not
// distinguished.
type Signal struct {
	Table Table
}

// Handle identifies one open subscription.
type Handle struct {
	ID     string
	Table  Table
	Filter string
}

// ChangeOp is the kind of write that produced a Change.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// Change describes a write. Old is set for updates and deletes, New for
// inserts and updates; a subscription is signalled when either matches.
type Change struct {
	Table Table    `json:"table"`
	Op    ChangeOp `json:"op"`
	Old   Row      `json:"old,omitempty"`
	New   Row      `json:"new,omitempty"`
}

// Matches reports whether the change is visible through filters on table.
func (c Change) Matches(table Table, filters []Filter) bool {
	if c.Table != table {
		return false
	}
	if c.New != nil && MatchAll(filters, c.New) {
		return true
	}
	return c.Old != nil && MatchAll(filters, c.Old)
}

type Reader interface {
	Select(ctx context.Context, q Query) ([]Row, error)
}

type Subscriber interface {
	// Subscribe registers onSignal for changes on table that match filters.
	// onSignal may be invoked from any goroutine and must not block.
	Subscribe(ctx context.Context, table Table, filters []Filter, onSignal func(Signal)) (Handle, error)
	// Unsubscribe is idempotent: unknown or already closed handles are a no-op.
	Unsubscribe(h Handle) error
}

// Writer is used by seeding, the CLI and tests. It is not part of the
// engine's read path.
type Writer interface {
	Insert(ctx context.Context, table Table, row Row) error
	Update(ctx context.Context, table Table, id string, row Row) error
	Delete(ctx context.Context, table Table, id string) error
}

// Feed carries changes from writers to subscribers, possibly across
// processes.
type Feed interface {
	Subscriber
	Publish(ctx context.Context, c Change) error
	Close() error
}

// Backend is a complete remote store.
type Backend interface {
	Reader
	Subscriber
	Writer
	Close() error
}

// SortRows orders rows in place per q.Order and applies q.Limit, for
// backends that evaluate queries in memory.
func SortRows(rows []Row, order []Order, limit int) []Row {
	if len(order) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range order {
				a, b := valueString(rows[i][o.Column]), valueString(rows[j][o.Column])
				if a == b {
					continue
				}
				if o.Desc {
					return a > b
				}
				return a < b
			}
			return false
		})
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// FilterString renders a filter set the way it is logged and used as a
// subscription key, e.g. "owner=eq.alice&group_id=is.null".
func FilterString(filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, "&")
}
