package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"12,34", "12.34", false},
		{"12.345", "12.35", false},
		{"12.344", "12.34", false},
		{"0.01", "0.01", false},
		{".5", "0.5", false},
		{"7.", "7", false},
		{"  3 ", "3", false},
		{"", "", true},
		{"-1", "", true},
		{"+1", "", true},
		{"1.2.3", "", true},
		{"abc", "", true},
		{"0", "", true},
		{"0.004", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "€1,234.50", FormatAmount(decimal.RequireFromString("1234.5"), "EUR"))
	assert.Equal(t, "$10.00", FormatAmount(decimal.NewFromInt(10), "USD"))
	assert.Equal(t, "€0.99", FormatAmount(decimal.RequireFromString("0.99"), "nope"))
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(1235), Cents(decimal.RequireFromString("12.345")))
	assert.Equal(t, int64(0), Cents(decimal.Zero))
}
