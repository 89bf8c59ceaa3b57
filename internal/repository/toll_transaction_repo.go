package repository

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"toll-reconciliation-backend/internal/models"
)

// InsertOutcome classifies the fate of one row in a batch insert.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	SkippedDuplicate
	Failed
)

type TollTransactionRepository struct {
	db *gorm.DB
}

func NewTollTransactionRepository(db *gorm.DB) *TollTransactionRepository {
	return &TollTransactionRepository{db: db}
}

// Expose DB if needed
func (r *TollTransactionRepository) DB() *gorm.DB {
	return r.db
}

// InsertChunk writes one chunk as a single set-insert. On a duplicate-key
// violation anywhere in the chunk it falls back to row-by-row inserts so one
// already-imported row does not sink the rest. Returns inserted and
// skipped-as-duplicate counts; any other row failure aborts the chunk with
// the counts accumulated so far.
func (r *TollTransactionRepository) InsertChunk(txs []models.TollTransaction) (inserted, skipped int, err error) {
	if len(txs) == 0 {
		return 0, 0, nil
	}

	bulkErr := r.db.Create(&txs).Error
	if bulkErr == nil {
		return len(txs), 0, nil
	}
	if !errors.Is(bulkErr, gorm.ErrDuplicatedKey) {
		return 0, 0, bulkErr
	}

	for i := range txs {
		outcome, rowErr := r.InsertOne(&txs[i])
		switch outcome {
		case Inserted:
			inserted++
		case SkippedDuplicate:
			skipped++
		case Failed:
			// Identifying fields for manual recovery; amounts and plates
			// are not sensitive in this domain.
			log.Printf("row insert failed: plate=%s date=%s amount=%s hash=%s: %v",
				txs[i].LicensePlate,
				txs[i].TransactionDate.Format("2006-01-02"),
				txs[i].Amount.String(),
				txs[i].ImportHash,
				rowErr)
			return inserted, skipped, rowErr
		}
	}
	return inserted, skipped, nil
}

// InsertOne inserts a single transaction. A duplicate import_hash is a
// benign outcome, not an error: it means the row was already imported,
// possibly by a concurrent upload.
func (r *TollTransactionRepository) InsertOne(tx *models.TollTransaction) (InsertOutcome, error) {
	err := r.db.Create(tx).Error
	if err == nil {
		return Inserted, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return SkippedDuplicate, nil
	}
	return Failed, err
}

// FindNew returns all transactions awaiting reconciliation, ordered so the
// matcher sees each (plate, date) group contiguously.
func (r *TollTransactionRepository) FindNew() ([]models.TollTransaction, error) {
	var txs []models.TollTransaction
	err := r.db.
		Where("status = ?", models.StatusNew).
		Order("license_plate ASC, transaction_date ASC, vat_rate ASC, country ASC").
		Find(&txs).Error
	return txs, err
}

// GetByIDs fetches the given transactions; callers check the returned count
// against the requested count to detect unknown ids.
func (r *TollTransactionRepository) GetByIDs(ids []uuid.UUID) ([]models.TollTransaction, error) {
	var txs []models.TollTransaction
	err := r.db.Where("id IN ?", ids).Find(&txs).Error
	return txs, err
}

// MarkMatched transitions the given transactions to matched and attaches the
// invoice line, inside the caller's transaction so the line update and the
// status change commit together.
func (r *TollTransactionRepository) MarkMatched(tx *gorm.DB, ids []uuid.UUID, lineID uuid.UUID) error {
	return tx.Model(&models.TollTransaction{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":          models.StatusMatched,
			"invoice_line_id": lineID,
		}).Error
}

// SetStatus bulk-updates status. Leaving the matched state always clears the
// invoice line link so status and link can never disagree.
func (r *TollTransactionRepository) SetStatus(ids []uuid.UUID, status string) (int64, error) {
	updates := map[string]interface{}{"status": status}
	if status != models.StatusMatched {
		updates["invoice_line_id"] = nil
	}
	res := r.db.Model(&models.TollTransaction{}).
		Where("id IN ?", ids).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// LinkedCounts returns how many transactions are currently attached to each
// of the given invoice lines, within the caller's transaction. Lines absent
// from the map have none.
func (r *TollTransactionRepository) LinkedCounts(tx *gorm.DB, lineIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	if len(lineIDs) == 0 {
		return map[uuid.UUID]int64{}, nil
	}
	var rows []struct {
		InvoiceLineID uuid.UUID
		N             int64
	}
	err := tx.Model(&models.TollTransaction{}).
		Select("invoice_line_id, COUNT(*) as n").
		Where("invoice_line_id IN ?", lineIDs).
		Group("invoice_line_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		counts[row.InvoiceLineID] = row.N
	}
	return counts, nil
}

// CountNewForPlatePeriod counts unreconciled transactions for a plate within
// a billing period, used for the invoice's coarse toll status.
func (r *TollTransactionRepository) CountNewForPlatePeriod(plate string, start, end time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&models.TollTransaction{}).
		Where("license_plate = ? AND status = ? AND transaction_date BETWEEN ? AND ?",
			plate, models.StatusNew, start, end).
		Count(&n).Error
	return n, err
}

// List returns transactions with optional status filter, cursor-paginated
// by id.
func (r *TollTransactionRepository) List(status, cursor string, limit int) ([]models.TollTransaction, string, bool, error) {
	var txs []models.TollTransaction
	query := r.db.Order("id ASC").Limit(limit + 1)

	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}

	if err := query.Find(&txs).Error; err != nil {
		return nil, "", false, err
	}

	hasMore := false
	nextCursor := ""
	if len(txs) > limit {
		hasMore = true
		nextCursor = txs[limit-1].ID.String()
		txs = txs[:limit]
	}
	return txs, nextCursor, hasMore, nil
}
