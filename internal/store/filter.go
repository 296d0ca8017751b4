package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Op string

const (
	OpEq       Op = "eq"
	OpIsNull   Op = "is_null"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// Filter is one predicate of a select or subscription.
type Filter struct {
	Column string
	Op     Op
	Value  string
	Values []string
}

func Eq(column, value string) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: OpIn, Values: append([]string(nil), values...)}
}

// Contains matches list-valued columns (group members) holding value.
func Contains(column, value string) Filter {
	return Filter{Column: column, Op: OpContains, Value: value}
}

func (f Filter) String() string {
	switch f.Op {
	case OpEq:
		return f.Column + "=eq." + f.Value
	case OpIsNull:
		return f.Column + "=is.null"
	case OpIn:
		return f.Column + "=in.(" + strings.Join(f.Values, ",") + ")"
	case OpContains:
		return f.Column + "=cs.{" + f.Value + "}"
	default:
		return fmt.Sprintf("%s=%s.%s", f.Column, f.Op, f.Value)
	}
}

// Match evaluates the filter against a row. Missing columns are null.
func (f Filter) Match(r Row) bool {
	v, ok := r[f.Column]
	isNull := !ok || v == nil
	switch f.Op {
	case OpIsNull:
		if isNull {
			return true
		}
		s, isStr := v.(string)
		return isStr && s == ""
	case OpEq:
		return !isNull && valueString(v) == f.Value
	case OpIn:
		if isNull {
			return false
		}
		s := valueString(v)
		for _, want := range f.Values {
			if s == want {
				return true
			}
		}
		return false
	case OpContains:
		if isNull {
			return false
		}
		for _, m := range valueList(v) {
			if m == f.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MatchAll reports whether every filter matches.
func MatchAll(filters []Filter, r Row) bool {
	for _, f := range filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// valueList reads a list column that may arrive as a slice or as JSON text.
func valueList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, valueString(e))
		}
		return out
	case string:
		var out []string
		if err := json.Unmarshal([]byte(x), &out); err == nil {
			return out
		}
		return nil
	case []byte:
		var out []string
		if err := json.Unmarshal(x, &out); err == nil {
			return out
		}
		return nil
	default:
		return nil
	}
}
