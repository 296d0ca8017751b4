package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"day key", "2024-03-09", "2024-03-09", false},
		{"rfc3339 keeps local day", "2024-03-09T23:30:00+02:00", "2024-03-09", false},
		{"padded", "  2024-12-31 ", "2024-12-31", false},
		{"garbage", "09/03/2024", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Key())
		})
	}
}

func TestDateAddDaysCrossesMonth(t *testing.T) {
	d := NewDate(2024, 2, 28)
	assert.Equal(t, "2024-02-29", d.AddDays(1).Key())
	assert.Equal(t, "2024-03-01", d.AddDays(2).Key())
	assert.Equal(t, "2024-01-30", d.AddDays(-29).Key())
}

func TestDateOfTruncates(t *testing.T) {
	ts := time.Date(2024, 5, 1, 17, 45, 3, 0, time.UTC)
	assert.Equal(t, NewDate(2024, 5, 1), DateOf(ts))
}

func TestBudgetValidate(t *testing.T) {
	valid := Budget{
		ID:             "b1",
		Owner:          "u1",
		Name:           "Food",
		Amount:         decimal.NewFromInt(1000),
		Start:          NewDate(2024, 1, 1),
		End:            NewDate(2024, 1, 31),
		AlertThreshold: decimal.RequireFromString("0.8"),
		Active:         true,
	}
	require.NoError(t, valid.Validate())

	inverted := valid
	inverted.Start, inverted.End = valid.End, valid.Start
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidPeriod)

	zeroThreshold := valid
	zeroThreshold.AlertThreshold = decimal.Zero
	assert.ErrorIs(t, zeroThreshold.Validate(), ErrInvalidThreshold)

	bigThreshold := valid
	bigThreshold.AlertThreshold = decimal.RequireFromString("1.01")
	assert.ErrorIs(t, bigThreshold.Validate(), ErrInvalidThreshold)

	oneDay := valid
	oneDay.End = oneDay.Start
	assert.NoError(t, oneDay.Validate())
}

func TestBudgetContainsInclusive(t *testing.T) {
	b := Budget{Start: NewDate(2024, 1, 10), End: NewDate(2024, 1, 20)}
	assert.True(t, b.Contains(NewDate(2024, 1, 10)))
	assert.True(t, b.Contains(NewDate(2024, 1, 20)))
	assert.False(t, b.Contains(NewDate(2024, 1, 9)))
	assert.False(t, b.Contains(NewDate(2024, 1, 21)))
}

func TestBudgetAppliesTo(t *testing.T) {
	all := Budget{}
	assert.True(t, all.AppliesTo(nil))
	assert.True(t, all.AppliesTo(strPtr("food")))

	food := Budget{CategoryID: strPtr("food")}
	assert.True(t, food.AppliesTo(strPtr("food")))
	assert.False(t, food.AppliesTo(strPtr("rent")))
	assert.False(t, food.AppliesTo(nil))
}

func TestSavingsGoalAchievedIgnoresStoredFlag(t *testing.T) {
	g := SavingsGoal{
		ID:       "g1",
		Target:   decimal.NewFromInt(5000),
		Current:  decimal.NewFromInt(5000),
		Achieved: false,
	}
	assert.True(t, g.IsAchieved())
	assert.True(t, g.Progress().Equal(decimal.NewFromInt(100)))

	g.Current = decimal.NewFromInt(9000)
	assert.True(t, g.Progress().Equal(decimal.NewFromInt(100)), "progress is clamped")

	g.Current = decimal.NewFromInt(1250)
	g.Achieved = true
	assert.False(t, g.IsAchieved())
	assert.True(t, g.Progress().Equal(decimal.NewFromInt(25)))

	g.Target = decimal.Zero
	assert.True(t, g.Progress().IsZero())
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	p, err = ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, p)

	_, err = ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestGroupNormalize(t *testing.T) {
	g := Group{ID: "g1", Owner: "alice", Members: []string{"bob", "alice", "bob", " "}}
	n := g.Normalize()
	assert.Equal(t, []string{"alice", "bob"}, n.Members)
	require.NoError(t, n.Validate())

	missingOwner := Group{ID: "g1", Owner: "alice", Members: []string{"bob"}}
	assert.Error(t, missingOwner.Validate())
	assert.ErrorIs(t, Group{ID: "g1", Owner: "alice"}.Validate(), ErrNoMembers)
}

func TestExpenseValidate(t *testing.T) {
	e := Expense{ID: "e1", Owner: "u1", Amount: decimal.NewFromInt(5), Date: NewDate(2024, 1, 1)}
	require.NoError(t, e.Validate())

	e.Amount = decimal.Zero
	assert.ErrorIs(t, e.Validate(), ErrInvalidAmount)

	e.Amount = decimal.NewFromInt(1)
	e.Owner = ""
	assert.ErrorIs(t, e.Validate(), ErrEmptyOwner)
}
