package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnMapping tells the parser where to find each toll field in the
// uploaded sheet. Values are column references: a column letter ("A"),
// a 0-based column index ("3"), or a header name from the first row
// ("Kenteken"). license_plate, transaction_date and amount are mandatory.
type ColumnMapping struct {
	LicensePlate    string `json:"license_plate"`
	TransactionDate string `json:"transaction_date"`
	Amount          string `json:"amount"`
	TransactionTime string `json:"transaction_time"`
	Country         string `json:"country"`
	Location        string `json:"location"`
}

// MappingError reports which mandatory mapping keys are absent.
type MappingError struct {
	Missing []string
}

func (e *MappingError) Error() string {
	return "column mapping incomplete, missing: " + strings.Join(e.Missing, ", ")
}

// Validate checks the three mandatory keys.
func (m ColumnMapping) Validate() error {
	var missing []string
	if strings.TrimSpace(m.LicensePlate) == "" {
		missing = append(missing, "license_plate")
	}
	if strings.TrimSpace(m.TransactionDate) == "" {
		missing = append(missing, "transaction_date")
	}
	if strings.TrimSpace(m.Amount) == "" {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return &MappingError{Missing: missing}
	}
	return nil
}

// columnIndexes holds the resolved 0-based index per field, -1 when the
// field is unmapped or its reference did not resolve.
type columnIndexes struct {
	plate    int
	date     int
	amount   int
	timeOf   int
	country  int
	location int

	// headerUsed means at least one reference matched a header-row cell,
	// so the first row is a header and not data.
	headerUsed bool
}

// resolve turns every mapping value into a column index against the first
// row. Column letters and digit strings resolve positionally; anything else
// is looked up case-insensitively in the header row.
func (m ColumnMapping) resolve(header []string) columnIndexes {
	idx := columnIndexes{}
	idx.plate = resolveRef(m.LicensePlate, header, &idx.headerUsed)
	idx.date = resolveRef(m.TransactionDate, header, &idx.headerUsed)
	idx.amount = resolveRef(m.Amount, header, &idx.headerUsed)
	idx.timeOf = resolveRef(m.TransactionTime, header, &idx.headerUsed)
	idx.country = resolveRef(m.Country, header, &idx.headerUsed)
	idx.location = resolveRef(m.Location, header, &idx.headerUsed)
	return idx
}

func resolveRef(ref string, header []string, headerUsed *bool) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 {
		return n
	}
	if n, ok := letterIndex(ref); ok {
		return n
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), ref) {
			*headerUsed = true
			return i
		}
	}
	return -1
}

// letterIndex converts a spreadsheet column letter ("A".."ZZ") to a
// 0-based index.
func letterIndex(ref string) (int, bool) {
	if len(ref) == 0 || len(ref) > 2 {
		return 0, false
	}
	n := 0
	for _, r := range strings.ToUpper(ref) {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A') + 1
	}
	return n - 1, true
}

func (c columnIndexes) String() string {
	return fmt.Sprintf("plate=%d date=%d amount=%d time=%d country=%d location=%d",
		c.plate, c.date, c.amount, c.timeOf, c.country, c.location)
}
