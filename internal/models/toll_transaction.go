package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Toll transaction statuses.
const (
	StatusNew     = "new"
	StatusMatched = "matched"
	StatusIgnored = "ignored"
)

// TollTransaction is one charged road-usage event for one vehicle.
// Rows are never deleted; status and invoice link are the only fields
// updated after insert.
type TollTransaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ImportHash      string          `gorm:"size:64;uniqueIndex" json:"import_hash"`
	LicensePlate    string          `gorm:"index" json:"license_plate"`
	TransactionDate time.Time       `gorm:"index" json:"transaction_date"`
	TransactionTime string          `gorm:"size:5" json:"transaction_time"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,3)" json:"amount"`
	VatRate         decimal.Decimal `gorm:"type:decimal(5,2)" json:"vat_rate"`
	Country         string          `json:"country"`
	Location        string          `json:"location"`
	Status          string          `gorm:"index" json:"status"`
	InvoiceLineID   *uuid.UUID      `gorm:"type:uuid;index" json:"invoice_line_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsMatched reports whether the status/link invariant holds on the matched
// side: matched iff a line is attached.
func (t *TollTransaction) IsMatched() bool {
	return t.Status == StatusMatched && t.InvoiceLineID != nil
}

// ValidStatus reports whether s is one of the three transaction states.
func ValidStatus(s string) bool {
	return s == StatusNew || s == StatusMatched || s == StatusIgnored
}
