package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DateLayout is the normalized calendar-day key used for bucketing.
const DateLayout = "2006-01-02"

type (
	Priority string

	// Date is a calendar day in UTC. The time-of-day part is always zero.
	Date struct {
		time.Time
	}

	Expense struct {
		ID            string          `json:"id"`
		Owner         string          `json:"owner"`
		GroupID       *string         `json:"group_id,omitempty"` // nil for personal expenses
		Amount        decimal.Decimal `json:"amount"`
		Date          Date            `json:"date"`
		CategoryID    *string         `json:"category_id,omitempty"`
		Title         string          `json:"title,omitempty"`
		PaymentMethod string          `json:"payment_method,omitempty"`
	}

	Income struct {
		ID      string          `json:"id"`
		Owner   string          `json:"owner"`
		GroupID *string         `json:"group_id,omitempty"`
		Amount  decimal.Decimal `json:"amount"`
		Date    Date            `json:"date"`
		Source  string          `json:"source"`
	}

	Category struct {
		ID     string `json:"id"`
		Owner  string `json:"owner"`
		Name   string `json:"name"`
		Color  string `json:"color,omitempty"`
		Icon   string `json:"icon,omitempty"`
		Active bool   `json:"active"`
	}

	Budget struct {
		ID         string          `json:"id"`
		Owner      string          `json:"owner"`
		GroupID    *string         `json:"group_id,omitempty"`
		Name       string          `json:"name"`
		Amount     decimal.Decimal `json:"amount"`
		Start      Date            `json:"start_date"`
		End        Date            `json:"end_date"`
		CategoryID *string         `json:"category_id,omitempty"` // nil applies the budget to every category
		// AlertThreshold is a fraction in (0,1].
		AlertThreshold decimal.Decimal `json:"alert_threshold"`
		Active         bool            `json:"active"`
	}

	SavingsGoal struct {
		ID         string          `json:"id"`
		Owner      string          `json:"owner"`
		Name       string          `json:"name"`
		Target     decimal.Decimal `json:"target_amount"`
		Current    decimal.Decimal `json:"current_amount"`
		TargetDate *Date           `json:"target_date,omitempty"`
		Priority   Priority        `json:"priority"`
		Achieved   bool            `json:"is_achieved"`
	}

	Group struct {
		ID      string   `json:"id"`
		Owner   string   `json:"owner"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyOwner       = errors.New("empty owner")
	ErrEmptyID          = errors.New("empty id")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidPeriod    = errors.New("budget start must not be after end")
	ErrInvalidThreshold = errors.New("alert threshold must be in (0,1]")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrNoMembers        = errors.New("group has no members")
)

var hundred = decimal.NewFromInt(100)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate accepts YYYY-MM-DD and RFC 3339 timestamps.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Key returns the normalized day key (YYYY-MM-DD).
func (d Date) Key() string {
	return d.Format(DateLayout)
}

func (d Date) String() string {
	return d.Key()
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Key() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AddDays returns the date n calendar days away.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.Key() < o.Key() }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.Key() > o.Key() }

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func validatePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(e.Owner) == "" {
		return ErrEmptyOwner
	}
	if err := validatePositive(e.Amount); err != nil {
		return err
	}
	return e.Date.Validate()
}

func (i Income) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(i.Owner) == "" {
		return ErrEmptyOwner
	}
	if err := validatePositive(i.Amount); err != nil {
		return err
	}
	return i.Date.Validate()
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(b.Owner) == "" {
		return ErrEmptyOwner
	}
	if b.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if err := b.Start.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if err := b.End.Validate(); err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}
	if b.Start.After(b.End) {
		return ErrInvalidPeriod
	}
	if !b.AlertThreshold.IsPositive() || b.AlertThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidThreshold
	}
	return nil
}

// Contains reports whether day falls inside the inclusive budget period.
func (b Budget) Contains(day Date) bool {
	k := day.Key()
	return k >= b.Start.Key() && k <= b.End.Key()
}

// AppliesTo reports whether an expense with the given category counts
// against the budget's category filter.
func (b Budget) AppliesTo(categoryID *string) bool {
	if b.CategoryID == nil {
		return true
	}
	return categoryID != nil && *categoryID == *b.CategoryID
}

func (g SavingsGoal) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return ErrEmptyID
	}
	if !g.Target.IsPositive() {
		return ErrInvalidAmount
	}
	if g.Current.IsNegative() {
		return ErrInvalidAmount
	}
	if _, err := ParsePriority(string(g.Priority)); err != nil {
		return err
	}
	return nil
}

// IsAchieved derives the achieved flag from the amounts; the stored flag is
// never trusted.
func (g SavingsGoal) IsAchieved() bool {
	return g.Current.GreaterThanOrEqual(g.Target)
}

// Progress is current/target*100 clamped to [0,100], or 0 without a target.
func (g SavingsGoal) Progress() decimal.Decimal {
	if !g.Target.IsPositive() {
		return decimal.Zero
	}
	p := g.Current.Div(g.Target).Mul(hundred)
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// ParsePriority maps a stored label onto a Priority. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium, "":
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(g.Owner) == "" {
		return ErrEmptyOwner
	}
	if len(g.Members) == 0 {
		return ErrNoMembers
	}
	if !g.HasMember(g.Owner) {
		return fmt.Errorf("group owner %q is not a member", g.Owner)
	}
	return nil
}

// HasMember reports whether principal belongs to the group.
func (g Group) HasMember(principal string) bool {
	for _, m := range g.Members {
		if m == principal {
			return true
		}
	}
	return false
}

// Normalize enforces the membership invariant: the owner is always a
// member and members are unique, in first-seen order.
func (g Group) Normalize() Group {
	seen := make(map[string]struct{}, len(g.Members)+1)
	members := make([]string, 0, len(g.Members)+1)
	for _, m := range append([]string{g.Owner}, g.Members...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}
	g.Members = members
	return g
}
