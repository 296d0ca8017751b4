// Package budget classifies budget utilization into alert states.
package budget

import "github.com/shopspring/decimal"

type Status string

const (
	StatusGood    Status = "good"
	StatusWarning Status = "warning"
	StatusOver    Status = "over"
)

var hundred = decimal.NewFromInt(100)

// Classify maps a utilization percentage and an alert threshold fraction to
// a status. It keeps no history: callers that alert on transitions diff
// successive results themselves.
//
//	percentage < threshold*100        -> Good
//	threshold*100 <= percentage <= 100 -> Warning
//	percentage > 100                  -> Over
func Classify(percentage, threshold decimal.Decimal) Status {
	switch {
	case percentage.GreaterThan(hundred):
		return StatusOver
	case percentage.GreaterThanOrEqual(threshold.Mul(hundred)):
		return StatusWarning
	default:
		return StatusGood
	}
}

// Entered reports whether next is an alerting state that prev was not in.
func Entered(prev, next Status) bool {
	return next != prev && next != StatusGood
}

func (s Status) String() string {
	return string(s)
}
