package budget

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		percentage string
		threshold  string
		want       Status
	}{
		{"zero", "0", "0.8", StatusGood},
		{"below threshold", "79.99", "0.8", StatusGood},
		{"at threshold", "80", "0.8", StatusWarning},
		{"warning", "85", "0.8", StatusWarning},
		{"exactly full", "100", "0.8", StatusWarning},
		{"over", "100.01", "0.8", StatusOver},
		{"way over", "120", "0.8", StatusOver},
		{"threshold one", "99", "1", StatusGood},
		{"threshold one full", "100", "1", StatusWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(decimal.RequireFromString(tt.percentage), decimal.RequireFromString(tt.threshold))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntered(t *testing.T) {
	assert.True(t, Entered(StatusGood, StatusWarning))
	assert.True(t, Entered(StatusWarning, StatusOver))
	assert.False(t, Entered(StatusWarning, StatusWarning))
	assert.False(t, Entered(StatusOver, StatusGood))
}
