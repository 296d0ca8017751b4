package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// errShape marks a row whose columns do not have the expected types. It
// is reported as a schema mismatch, unlike invalid values, which only
// drop the row.
var errShape = errors.New("unexpected column shape")

func shapeErr(col string, v any) error {
	return fmt.Errorf("%w: column %s has %T", errShape, col, v)
}

func str(r store.Row, col string) (string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: column %s missing", errShape, col)
	}
	s, err := asString(col, v)
	if err != nil {
		return "", err
	}
	return s, nil
}

func optStr(r store.Row, col string) (string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", nil
	}
	return asString(col, v)
}

func optRef(r store.Row, col string) (*string, error) {
	s, err := optStr(r, col)
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func asString(col string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", shapeErr(col, v)
	}
}

func amount(r store.Row, col string) (decimal.Decimal, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("%w: column %s missing", errShape, col)
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: column %s: %v", errShape, col, err)
		}
		return d, nil
	case []byte:
		d, err := decimal.NewFromString(string(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: column %s: %v", errShape, col, err)
		}
		return d, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.Zero, shapeErr(col, v)
	}
}

func date(r store.Row, col string) (core.Date, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return core.Date{}, fmt.Errorf("%w: column %s missing", errShape, col)
	}
	return asDate(col, v)
}

func optDate(r store.Row, col string) (*core.Date, error) {
	v, ok := r[col]
	if !ok || v == nil || v == "" {
		return nil, nil
	}
	d, err := asDate(col, v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func asDate(col string, v any) (core.Date, error) {
	switch x := v.(type) {
	case time.Time:
		return core.DateOf(x), nil
	case string, []byte:
		s, _ := asString(col, x)
		d, err := core.ParseDate(s)
		if err != nil {
			return core.Date{}, fmt.Errorf("%w: column %s: %v", errShape, col, err)
		}
		return d, nil
	default:
		return core.Date{}, shapeErr(col, v)
	}
}

// boolean reads a flag column; a missing column yields def.
func boolean(r store.Row, col string, def bool) (bool, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, fmt.Errorf("%w: column %s: %v", errShape, col, err)
		}
		return b, nil
	default:
		return false, shapeErr(col, v)
	}
}

func list(r store.Row, col string) ([]string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, shapeErr(col, e)
			}
			out = append(out, s)
		}
		return out, nil
	case string, []byte:
		raw, _ := asString(col, x)
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", errShape, col, err)
		}
		return out, nil
	default:
		return nil, shapeErr(col, v)
	}
}

// decodeErr collects the first error of a row decode.
type decodeErr struct{ err error }

func (d *decodeErr) str(r store.Row, col string) string {
	s, err := str(r, col)
	d.keep(err)
	return s
}

func (d *decodeErr) optStr(r store.Row, col string) string {
	s, err := optStr(r, col)
	d.keep(err)
	return s
}

func (d *decodeErr) optRef(r store.Row, col string) *string {
	s, err := optRef(r, col)
	d.keep(err)
	return s
}

func (d *decodeErr) amount(r store.Row, col string) decimal.Decimal {
	v, err := amount(r, col)
	d.keep(err)
	return v
}

// money is an amount in currency units, rounded to cents the way
// core.ParseAmount rounds user input.
func (d *decodeErr) money(r store.Row, col string) decimal.Decimal {
	return d.amount(r, col).Round(2)
}

func (d *decodeErr) date(r store.Row, col string) core.Date {
	v, err := date(r, col)
	d.keep(err)
	return v
}

func (d *decodeErr) optDate(r store.Row, col string) *core.Date {
	v, err := optDate(r, col)
	d.keep(err)
	return v
}

func (d *decodeErr) boolean(r store.Row, col string, def bool) bool {
	v, err := boolean(r, col, def)
	d.keep(err)
	return v
}

func (d *decodeErr) list(r store.Row, col string) []string {
	v, err := list(r, col)
	d.keep(err)
	return v
}

func (d *decodeErr) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func DecodeExpense(r store.Row) (core.Expense, error) {
	var d decodeErr
	e := core.Expense{
		ID:            d.str(r, "id"),
		Owner:         d.str(r, "owner"),
		GroupID:       d.optRef(r, "group_id"),
		Amount:        d.money(r, "amount"),
		Date:          d.date(r, "date"),
		CategoryID:    d.optRef(r, "category_id"),
		Title:         d.optStr(r, "title"),
		PaymentMethod: d.optStr(r, "payment_method"),
	}
	return e, d.err
}

func DecodeIncome(r store.Row) (core.Income, error) {
	var d decodeErr
	i := core.Income{
		ID:      d.str(r, "id"),
		Owner:   d.str(r, "owner"),
		GroupID: d.optRef(r, "group_id"),
		Amount:  d.money(r, "amount"),
		Date:    d.date(r, "date"),
		Source:  d.optStr(r, "source"),
	}
	return i, d.err
}

func DecodeCategory(r store.Row) (core.Category, error) {
	var d decodeErr
	c := core.Category{
		ID:     d.str(r, "id"),
		Owner:  d.str(r, "owner"),
		Name:   d.str(r, "name"),
		Color:  d.optStr(r, "color"),
		Icon:   d.optStr(r, "icon"),
		Active: d.boolean(r, "active", true),
	}
	return c, d.err
}

// defaultAlertThreshold applies when a budget row has no threshold.
var defaultAlertThreshold = decimal.RequireFromString("0.8")

func DecodeBudget(r store.Row) (core.Budget, error) {
	var d decodeErr
	b := core.Budget{
		ID:         d.str(r, "id"),
		Owner:      d.str(r, "owner"),
		GroupID:    d.optRef(r, "group_id"),
		Name:       d.optStr(r, "name"),
		Amount:     d.money(r, "amount"),
		Start:      d.date(r, "start_date"),
		End:        d.date(r, "end_date"),
		CategoryID: d.optRef(r, "category_id"),
		Active:     d.boolean(r, "active", true),
	}
	b.AlertThreshold = defaultAlertThreshold
	if v, ok := r["alert_threshold"]; ok && v != nil {
		b.AlertThreshold = d.amount(r, "alert_threshold")
	}
	return b, d.err
}

// DecodeSavingsGoal ignores the stored achieved flag and derives it from
// the amounts.
func DecodeSavingsGoal(r store.Row) (core.SavingsGoal, error) {
	var d decodeErr
	g := core.SavingsGoal{
		ID:         d.str(r, "id"),
		Owner:      d.str(r, "owner"),
		Name:       d.optStr(r, "name"),
		Target:     d.money(r, "target_amount"),
		TargetDate: d.optDate(r, "target_date"),
	}
	g.Current = decimal.Zero
	if v, ok := r["current_amount"]; ok && v != nil {
		g.Current = d.money(r, "current_amount")
	}
	if d.err != nil {
		return g, d.err
	}
	p, err := core.ParsePriority(d.optStr(r, "priority"))
	if err != nil {
		return g, err
	}
	g.Priority = p
	g.Achieved = g.IsAchieved()
	return g, d.err
}

func DecodeGroup(r store.Row) (core.Group, error) {
	var d decodeErr
	g := core.Group{
		ID:      d.str(r, "id"),
		Owner:   d.str(r, "owner"),
		Name:    d.optStr(r, "name"),
		Members: d.list(r, "members"),
	}
	return g, d.err
}
