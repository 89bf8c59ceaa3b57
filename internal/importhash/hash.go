// Package importhash derives the stable per-transaction fingerprint used to
// deduplicate toll imports. The same real-world transaction must hash to the
// same value on every upload, so the input is canonicalized before hashing
// and the decision to include the transaction time is made once per batch,
// never per row.
package importhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"toll-reconciliation-backend/internal/parser"
)

// Input is the set of identifying fields folded into the hash.
//
// RowIndex is a tie-breaker for files that legitimately contain identical
// charges (same plate, date, time and amount). Setting UseRowIndex trades
// duplicate safety for accuracy: a re-upload of a reordered file will then
// insert duplicates. Callers must opt in deliberately; nothing in this
// codebase defaults it on.
type Input struct {
	LicensePlate    string
	TransactionDate time.Time
	TransactionTime string
	Amount          decimal.Decimal
	Country         string
	Location        string
	IncludeTime     bool
	UseRowIndex     bool
	RowIndex        int
}

// Sum returns the 64-char hex fingerprint for one transaction.
func Sum(in Input) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(in.LicensePlate)),
		in.TransactionDate.Format("2006-01-02"),
	}
	if in.IncludeTime {
		t := in.TransactionTime
		if t == "" {
			t = parser.TimeSentinel
		}
		parts = append(parts, t)
	}
	// Fixed 3-decimal rendering so "10", "10.0" and "10.00" canonicalize
	// identically; toll operators bill at most sub-cent precision.
	parts = append(parts,
		in.Amount.StringFixed(3),
		strings.ToUpper(strings.TrimSpace(in.Country)),
		strings.TrimSpace(in.Location),
	)
	if in.UseRowIndex {
		parts = append(parts, fmt.Sprintf("row:%d", in.RowIndex))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// DecideTime applies the batch-wide heuristic: when strictly more than half
// of the parsed rows carry a real (non-sentinel) time, time participates in
// the hash for the whole batch. Otherwise it is left out and a warning is
// returned, because identical same-day charges at different times will then
// collapse into one.
func DecideTime(rows []parser.RawTollRow) (bool, []string) {
	if len(rows) == 0 {
		return false, nil
	}
	withTime := 0
	for _, r := range rows {
		if r.TransactionTime != "" && r.TransactionTime != parser.TimeSentinel {
			withTime++
		}
	}
	if withTime*2 > len(rows) {
		return true, nil
	}
	return false, []string{
		fmt.Sprintf(
			"transaction time excluded from import hash (%d of %d rows carry a time); identical same-day charges may be merged",
			withTime, len(rows),
		),
	}
}
