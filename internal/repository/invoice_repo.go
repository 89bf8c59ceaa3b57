package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"toll-reconciliation-backend/internal/models"
)

// ErrInvoiceNotFound is returned when no invoice matches a lookup.
var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Expose DB if needed
func (r *InvoiceRepository) DB() *gorm.DB {
	return r.db
}

// GetByID fetch a single invoice by ID
func (r *InvoiceRepository) GetByID(id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindConceptForPlateDate resolves the draft invoice that should bill tolls
// for the given plate and day: status concept, matching plate, billing
// period covering the date. The plate/period columns encode the invoicing
// subsystem's reference convention.
func (r *InvoiceRepository) FindConceptForPlateDate(plate string, date time.Time) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.
		Where("license_plate = ?", plate).
		Where("status = ?", models.InvoiceStatusConcept).
		Where("period_start <= ? AND period_end >= ?", date, date).
		Order("period_start ASC").
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// LinesForUpdate returns all line items of an invoice in creation order,
// inside the caller's transaction and locked for update so concurrent
// matchers serialize on the same lines. sqlite has no FOR UPDATE; its
// single-writer model serializes writes already.
func (r *InvoiceRepository) LinesForUpdate(tx *gorm.DB, invoiceID uuid.UUID) ([]models.InvoiceLine, error) {
	q := tx.
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC")
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var lines []models.InvoiceLine
	err := q.Find(&lines).Error
	return lines, err
}

// CreateWithLines persists an invoice and its lines in one transaction.
// Used by the seed endpoint standing in for the invoicing subsystem.
func (r *InvoiceRepository) CreateWithLines(invoice *models.Invoice, lines []models.InvoiceLine) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}
		return tx.Create(&lines).Error
	})
}

// CountBlankTollLines counts unpriced toll placeholders on an invoice.
func (r *InvoiceRepository) CountBlankTollLines(invoiceID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Model(&models.InvoiceLine{}).
		Where("invoice_id = ?", invoiceID).
		Where("quantity = 0 AND unit_price = 0").
		Where("description LIKE ?", "Toll charges%").
		Count(&n).Error
	return n, err
}
