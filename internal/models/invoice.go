package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice statuses. Only concept invoices may be touched by the matcher.
const (
	InvoiceStatusConcept = "concept"
	InvoiceStatusSent    = "sent"
	InvoiceStatusPaid    = "paid"
)

// Invoice is a draft or finalized customer invoice. Invoices are owned by
// the invoicing subsystem; the toll matcher only reads them and appends or
// fills toll lines while the status is still "concept". The license plate
// and billing period columns encode the reference convention used to route
// toll charges to the right invoice.
type Invoice struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Reference    string    `gorm:"uniqueIndex" json:"reference"`
	CustomerName string    `gorm:"index" json:"customer_name"`
	LicensePlate string    `gorm:"index" json:"license_plate"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Status       string    `gorm:"index" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvoiceLine is one line item on an invoice. A line with zero quantity and
// zero unit price is a blank placeholder: a toll charge is expected for the
// date in its description but has not been priced yet.
type InvoiceLine struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;index" json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,2)" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2)" json:"unit_price"`
	VatRate     decimal.Decimal `gorm:"type:decimal(5,2)" json:"vat_rate"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2)" json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsBlankPlaceholder reports whether the line is an unpriced toll
// placeholder.
func (l *InvoiceLine) IsBlankPlaceholder() bool {
	return l.Quantity.IsZero() && l.UnitPrice.IsZero()
}
