package tollimport

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"toll-reconciliation-backend/internal/models"
	"toll-reconciliation-backend/internal/parser"
	"toll-reconciliation-backend/internal/repository"
	"toll-reconciliation-backend/internal/services/reconciliation"
)

func newTestImporter(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.TollTransaction{},
		&models.TollMatchAudit{},
	))
	txRepo := repository.NewTollTransactionRepository(db)
	matcher := reconciliation.NewService(repository.NewInvoiceRepository(db), txRepo)
	return NewService(txRepo, matcher), db
}

var mapping = parser.ColumnMapping{
	LicensePlate:    "Kenteken",
	TransactionDate: "Datum",
	Amount:          "Bedrag",
}

const fileA = `Kenteken;Datum;Bedrag
12-ABC-3;2024-03-04;10,00
12-ABC-3;2024-03-04;15,50
12-ABC-3;2024-03-04;4,50
`

func TestImportIdempotent(t *testing.T) {
	svc, db := newTestImporter(t)

	res, err := svc.Import([]byte(fileA), mapping)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ParsedRows)
	assert.Equal(t, 3, res.InsertedRows)
	assert.Zero(t, res.SkippedRows)

	// Same file again: converges, zero new rows.
	res, err = svc.Import([]byte(fileA), mapping)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ParsedRows)
	assert.Zero(t, res.InsertedRows)
	assert.Equal(t, 3, res.SkippedRows)

	var count int64
	require.NoError(t, db.Model(&models.TollTransaction{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestImportDefaults(t *testing.T) {
	svc, db := newTestImporter(t)

	_, err := svc.Import([]byte(fileA), mapping)
	require.NoError(t, err)

	var txs []models.TollTransaction
	require.NoError(t, db.Find(&txs).Error)
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, models.StatusNew, tx.Status)
		assert.Equal(t, parser.TimeSentinel, tx.TransactionTime)
		assert.True(t, tx.VatRate.Equal(decimal.NewFromInt(21)))
		assert.Len(t, tx.ImportHash, 64)
	}
}

func TestImportTimeHeuristicWarning(t *testing.T) {
	svc, _ := newTestImporter(t)

	// No time column mapped: hash excludes time and a warning says so.
	res, err := svc.Import([]byte(fileA), mapping)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "excluded from import hash")
}

func TestImportTimeHeuristicMajority(t *testing.T) {
	svc, _ := newTestImporter(t)

	file := "Kenteken;Datum;Tijd;Bedrag\n" +
		"12-ABC-3;2024-03-04;08:00;10,00\n" +
		"12-ABC-3;2024-03-04;09:00;10,00\n" +
		"12-ABC-3;2024-03-04;;10,00\n"
	withTime := mapping
	withTime.TransactionTime = "Tijd"

	res, err := svc.Import([]byte(file), withTime)
	require.NoError(t, err)
	// 2 of 3 rows carry a time: time participates, so the two 10,00 rows at
	// different times stay distinct and only the timeless duplicate is new.
	assert.Equal(t, 3, res.InsertedRows)
	assert.Empty(t, res.Warnings)
}

func TestImportTimeHeuristicFromDatetimeDateCells(t *testing.T) {
	svc, db := newTestImporter(t)

	// No time column mapped, but every date cell carries a clock: the
	// heuristic still resolves to include time, so equal-amount rows at
	// different moments stay distinct.
	file := "Kenteken;Datum;Bedrag\n" +
		"12-ABC-3;2024-03-04 08:15:00;10,00\n" +
		"12-ABC-3;2024-03-04 09:30:00;10,00\n" +
		"12-ABC-3;2024-03-04 17:45:00;10,00\n"
	res, err := svc.Import([]byte(file), mapping)
	require.NoError(t, err)
	assert.Equal(t, 3, res.InsertedRows)
	assert.Empty(t, res.Warnings)

	var txs []models.TollTransaction
	require.NoError(t, db.Order("transaction_time ASC").Find(&txs).Error)
	require.Len(t, txs, 3)
	assert.Equal(t, "08:15", txs[0].TransactionTime)
	assert.Equal(t, "17:45", txs[2].TransactionTime)
}

func TestImportCollapsesSameDayDuplicatesWithoutTime(t *testing.T) {
	svc, _ := newTestImporter(t)

	file := "Kenteken;Datum;Bedrag\n" +
		"12-ABC-3;2024-03-04;10,00\n" +
		"12-ABC-3;2024-03-04;10,00\n"
	res, err := svc.Import([]byte(file), mapping)
	require.NoError(t, err)
	// Identical rows hash identically: the second is a skip, with the
	// heuristic warning explaining why.
	assert.Equal(t, 1, res.InsertedRows)
	assert.Equal(t, 1, res.SkippedRows)
	require.NotEmpty(t, res.Warnings)
}

func TestImportNoRowsParsed(t *testing.T) {
	svc, _ := newTestImporter(t)

	res, err := svc.Import([]byte("Kenteken;Datum;Bedrag\n"), mapping)
	assert.ErrorIs(t, err, ErrNoRowsParsed)
	assert.Zero(t, res.ParsedRows)
}

func TestImportMappingError(t *testing.T) {
	svc, _ := newTestImporter(t)

	_, err := svc.Import([]byte(fileA), parser.ColumnMapping{LicensePlate: "Kenteken"})
	var mappingErr *parser.MappingError
	assert.ErrorAs(t, err, &mappingErr)
}

func TestImportRunsReconciliation(t *testing.T) {
	svc, db := newTestImporter(t)

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	inv := &models.Invoice{
		ID:           uuid.New(),
		Reference:    "2024-0001",
		LicensePlate: "12-ABC-3",
		PeriodStart:  day.AddDate(0, 0, -3),
		PeriodEnd:    day.AddDate(0, 0, 3),
		Status:       models.InvoiceStatusConcept,
	}
	require.NoError(t, db.Create(inv).Error)
	require.NoError(t, db.Create(&models.InvoiceLine{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		Description: "Toll charges 12-ABC-3 04-03-2024",
	}).Error)

	res, err := svc.Import([]byte(fileA), mapping)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reconcile.ProcessedTransactions)
	assert.Equal(t, 3, res.Reconcile.MatchedTransactions)
	assert.Equal(t, 1, res.Reconcile.UpdatedInvoiceLines)

	var line models.InvoiceLine
	require.NoError(t, db.First(&line, "invoice_id = ?", inv.ID).Error)
	assert.Equal(t, "30.00", line.Total.StringFixed(2))
}
