package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// TimeSentinel marks an absent transaction time.
const TimeSentinel = "00:00"

// RawTollRow is one normalized row out of a toll operator export.
// TransactionTime is "" when the row carried no usable time.
type RawTollRow struct {
	LicensePlate    string
	TransactionDate time.Time
	TransactionTime string
	Amount          decimal.Decimal
	Country         string
	Location        string
}

// Result is the outcome of parsing one payload. Rows that fail to parse are
// dropped, but counted so the caller can report them.
type Result struct {
	Rows           []RawTollRow
	DroppedRows    int
	DroppedBadDate int
	DroppedBadAmt  int
	DroppedNoPlate int
}

// Warnings renders the drop counters as user-facing warnings.
func (r Result) Warnings() []string {
	var w []string
	if r.DroppedBadDate > 0 {
		w = append(w, fmt.Sprintf("%d rows dropped: unparsable transaction date", r.DroppedBadDate))
	}
	if r.DroppedBadAmt > 0 {
		w = append(w, fmt.Sprintf("%d rows dropped: non-numeric amount", r.DroppedBadAmt))
	}
	if r.DroppedNoPlate > 0 {
		w = append(w, fmt.Sprintf("%d rows dropped: empty license plate", r.DroppedNoPlate))
	}
	return w
}

// Parse turns a spreadsheet payload into raw toll rows using the given
// column mapping. XLSX payloads are detected by their zip signature; anything
// else is read as delimited text. An unresolvable or non-matching mapping
// yields zero rows, not an error — the caller decides how to report that.
func Parse(payload []byte, mapping ColumnMapping) (Result, error) {
	if err := mapping.Validate(); err != nil {
		return Result{}, err
	}

	var (
		grid [][]string
		err  error
	)
	if bytes.HasPrefix(payload, []byte("PK\x03\x04")) {
		grid, err = readXLSX(payload)
	} else {
		grid, err = readCSV(payload)
	}
	if err != nil {
		return Result{}, err
	}
	if len(grid) == 0 {
		return Result{}, nil
	}

	idx := mapping.resolve(grid[0])
	start := 0
	if idx.headerUsed {
		start = 1
	}

	res := Result{}
	for _, row := range grid[start:] {
		if isBlankRow(row) {
			continue
		}
		raw, reason := buildRow(row, idx)
		switch reason {
		case dropNone:
			res.Rows = append(res.Rows, raw)
		case dropBadDate:
			res.DroppedRows++
			res.DroppedBadDate++
		case dropBadAmount:
			res.DroppedRows++
			res.DroppedBadAmt++
		case dropNoPlate:
			res.DroppedRows++
			res.DroppedNoPlate++
		}
	}
	return res, nil
}

func readXLSX(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("xlsx file has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rows, nil
}

func readCSV(payload []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	// Delimiter sniffing on the first KB, semicolon beats comma because
	// European exports use comma as the decimal separator.
	sample := payload
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	switch {
	case bytes.ContainsRune(sample, ';'):
		r.Comma = ';'
	case bytes.ContainsRune(sample, '\t'):
		r.Comma = '\t'
	default:
		r.Comma = ','
	}

	var grid [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		grid = append(grid, record)
	}
	return grid, nil
}

type dropReason int

const (
	dropNone dropReason = iota
	dropBadDate
	dropBadAmount
	dropNoPlate
)

func buildRow(row []string, idx columnIndexes) (RawTollRow, dropReason) {
	plate := strings.TrimSpace(cell(row, idx.plate))
	if plate == "" {
		return RawTollRow{}, dropNoPlate
	}

	date, embeddedClock, ok := parseDate(cell(row, idx.date))
	if !ok {
		return RawTollRow{}, dropBadDate
	}

	amount, err := parseAmount(cell(row, idx.amount))
	if err != nil {
		return RawTollRow{}, dropBadAmount
	}

	// A mapped time column wins; a datetime-valued date cell is the
	// fallback so exports without a separate time column still carry
	// their clocks into the batch time heuristic.
	clock := parseClock(cell(row, idx.timeOf))
	if clock == "" {
		clock = embeddedClock
	}

	return RawTollRow{
		LicensePlate:    strings.ToUpper(plate),
		TransactionDate: date,
		TransactionTime: clock,
		Amount:          amount,
		Country:         strings.ToUpper(strings.TrimSpace(cell(row, idx.country))),
		Location:        strings.TrimSpace(cell(row, idx.location)),
	}, dropNone
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

var dateLayouts = []struct {
	layout   string
	hasClock bool
}{
	{"2006-01-02", false},
	{"02-01-2006", false},
	{"02/01/2006", false},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02 15:04", true},
	{"02-01-2006 15:04:05", true},
	{"02-01-2006 15:04", true},
	{"01-02-06", false}, // excelize default short date
}

// parseDate returns the calendar day truncated to midnight UTC plus, for
// datetime-valued cells, the embedded "HH:MM" clock ("" when absent or
// equal to the midnight sentinel).
func parseDate(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "", false
	}
	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		clock := ""
		if dl.hasClock {
			if hhmm := t.Format("15:04"); hhmm != TimeSentinel {
				clock = hhmm
			}
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), clock, true
	}
	return time.Time{}, "", false
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		// European notation: dots are thousand separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}

// parseClock normalizes a time cell to "HH:MM". Unusable or sentinel values
// come back as "" so the time heuristic can count real times only.
func parseClock(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM"} {
		if t, err := time.Parse(layout, s); err == nil {
			hhmm := t.Format("15:04")
			if hhmm == TimeSentinel {
				return ""
			}
			return hhmm
		}
	}
	return ""
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
