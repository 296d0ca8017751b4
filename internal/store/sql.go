package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when a query names a column the table does
// not have. SQL backends classify it as a schema mismatch.
var ErrUnknownColumn = errors.New("unknown column")

// Dialect adapts generated SQL to a database.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Contains renders a membership test of a bind parameter in a
	// list-valued column.
	Contains func(column, placeholder string) string
	// SelectExpr renders a column in the select list; nil selects it as is.
	SelectExpr func(table Table, column string) string
}

var SQLiteDialect = Dialect{
	Placeholder: func(int) string { return "?" },
	Contains: func(column, ph string) string {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", column, ph)
	},
}

// QuoteIdent double-quotes an identifier. Only names from Columns and
// AllTables reach it.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildSelect renders q as a parameterized SELECT of every column of the
// table, in Columns order.
func BuildSelect(q Query, d Dialect) (string, []any, error) {
	cols, ok := Columns[q.Table]
	if !ok {
		return "", nil, fmt.Errorf("select %q: unknown table", q.Table)
	}
	exprs := make([]string, len(cols))
	for i, c := range cols {
		if d.SelectExpr != nil {
			exprs[i] = d.SelectExpr(q.Table, c)
		} else {
			exprs[i] = QuoteIdent(c)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(exprs, ", "))
	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(string(q.Table)))

	where, args, err := buildWhere(q.Table, q.Filters, d, 0)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			if !HasColumn(q.Table, o.Column) {
				return "", nil, fmt.Errorf("order %s.%s: %w", q.Table, o.Column, ErrUnknownColumn)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = QuoteIdent(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

// BuildWhereByID renders "id = <ph>" for single-row statements.
func BuildWhereByID(d Dialect, n int) string {
	return `"id" = ` + d.Placeholder(n)
}

func buildWhere(table Table, filters []Filter, d Dialect, offset int) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(offset + len(args))
	}
	for _, f := range filters {
		if !HasColumn(table, f.Column) {
			return "", nil, fmt.Errorf("filter %s.%s: %w", table, f.Column, ErrUnknownColumn)
		}
		col := QuoteIdent(f.Column)
		switch f.Op {
		case OpEq:
			clauses = append(clauses, col+" = "+next(f.Value))
		case OpIsNull:
			clauses = append(clauses, col+" IS NULL")
		case OpIn:
			if len(f.Values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			phs := make([]string, len(f.Values))
			for i, v := range f.Values {
				phs[i] = next(v)
			}
			clauses = append(clauses, col+" IN ("+strings.Join(phs, ", ")+")")
		case OpContains:
			clauses = append(clauses, d.Contains(col, next(f.Value)))
		default:
			return "", nil, fmt.Errorf("filter %s: unsupported operator %q", f.Column, f.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// BuildInsert renders an INSERT of the known columns present in row.
// Unknown keys are rejected.
func BuildInsert(table Table, row Row, d Dialect) (string, []any, error) {
	cols, args, err := orderedValues(table, row)
	if err != nil {
		return "", nil, err
	}
	phs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		phs[i] = d.Placeholder(i + 1)
		quoted[i] = QuoteIdent(c)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(string(table)), strings.Join(quoted, ", "), strings.Join(phs, ", "))
	return q, args, nil
}

// BuildUpdate renders an UPDATE of the columns present in row for one id.
func BuildUpdate(table Table, id string, row Row, d Dialect) (string, []any, error) {
	fields := make(Row, len(row))
	for k, v := range row {
		if k != "id" {
			fields[k] = v
		}
	}
	cols, args, err := orderedValues(table, fields)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update %s %q: no columns", table, id)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = QuoteIdent(c) + " = " + d.Placeholder(i+1)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		QuoteIdent(string(table)), strings.Join(sets, ", "), BuildWhereByID(d, len(args)))
	return q, args, nil
}

func orderedValues(table Table, row Row) ([]string, []any, error) {
	for k := range row {
		if !HasColumn(table, k) {
			return nil, nil, fmt.Errorf("write %s.%s: %w", table, k, ErrUnknownColumn)
		}
	}
	var (
		cols []string
		args []any
	)
	for _, c := range Columns[table] {
		v, ok := row[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		args = append(args, SQLValue(v))
	}
	return cols, args, nil
}

// SQLValue converts loosely typed row values into driver arguments. List
// columns are stored as JSON text.
func SQLValue(v any) any {
	switch x := v.(type) {
	case []string, []any:
		b, _ := json.Marshal(x)
		return string(b)
	case time.Time:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}
