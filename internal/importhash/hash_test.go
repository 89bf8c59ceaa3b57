package importhash

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toll-reconciliation-backend/internal/parser"
)

func baseInput() Input {
	return Input{
		LicensePlate:    "12-ABC-3",
		TransactionDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		TransactionTime: "14:30",
		Amount:          decimal.RequireFromString("10.00"),
		Country:         "BE",
		Location:        "Liefkenshoek",
		IncludeTime:     true,
	}
}

func TestSumDeterministic(t *testing.T) {
	in := baseInput()
	first := Sum(in)
	second := Sum(in)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestSumAmountSensitivity(t *testing.T) {
	in := baseInput()
	base := Sum(in)

	in.Amount = decimal.RequireFromString("10.001")
	assert.NotEqual(t, base, Sum(in))
}

func TestSumAmountFormattingCanonical(t *testing.T) {
	a := baseInput()
	b := baseInput()
	a.Amount = decimal.RequireFromString("10")
	b.Amount = decimal.RequireFromString("10.00")
	assert.Equal(t, Sum(a), Sum(b))
}

func TestSumTimeParticipation(t *testing.T) {
	withTime := baseInput()

	withoutTime := baseInput()
	withoutTime.IncludeTime = false

	differentTime := baseInput()
	differentTime.TransactionTime = "09:15"

	// Time folded in: different times, different identities.
	assert.NotEqual(t, Sum(withTime), Sum(differentTime))

	// Time excluded: the same rows collapse.
	differentTime.IncludeTime = false
	assert.Equal(t, Sum(withoutTime), Sum(differentTime))
}

func TestSumPlateCanonicalization(t *testing.T) {
	a := baseInput()
	b := baseInput()
	b.LicensePlate = " 12-abc-3 "
	assert.Equal(t, Sum(a), Sum(b))
}

func TestSumRowIndexTieBreaker(t *testing.T) {
	a := baseInput()
	a.UseRowIndex = true
	a.RowIndex = 1

	b := baseInput()
	b.UseRowIndex = true
	b.RowIndex = 2

	assert.NotEqual(t, Sum(a), Sum(b))

	// Off by default: RowIndex alone changes nothing.
	c := baseInput()
	c.RowIndex = 7
	assert.Equal(t, Sum(baseInput()), Sum(c))
}

func makeRows(withTime, total int) []parser.RawTollRow {
	rows := make([]parser.RawTollRow, total)
	for i := range rows {
		rows[i] = parser.RawTollRow{
			LicensePlate:    "12-ABC-3",
			TransactionDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Amount:          decimal.NewFromInt(int64(i + 1)),
		}
		if i < withTime {
			rows[i].TransactionTime = "14:30"
		}
	}
	return rows
}

func TestDecideTime(t *testing.T) {
	tests := []struct {
		name        string
		withTime    int
		total       int
		wantInclude bool
		wantWarning bool
	}{
		{name: "majority with time", withTime: 3, total: 5, wantInclude: true},
		{name: "exactly half", withTime: 2, total: 4, wantInclude: false, wantWarning: true},
		{name: "no times", withTime: 0, total: 3, wantInclude: false, wantWarning: true},
		{name: "all times", withTime: 3, total: 3, wantInclude: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			include, warnings := DecideTime(makeRows(tt.withTime, tt.total))
			assert.Equal(t, tt.wantInclude, include)
			if tt.wantWarning {
				require.Len(t, warnings, 1)
				assert.Contains(t, warnings[0], "excluded from import hash")
			} else {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestDecideTimeEmptyBatch(t *testing.T) {
	include, warnings := DecideTime(nil)
	assert.False(t, include)
	assert.Empty(t, warnings)
}
