package tollimport

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"toll-reconciliation-backend/internal/importhash"
	"toll-reconciliation-backend/internal/models"
	"toll-reconciliation-backend/internal/parser"
	"toll-reconciliation-backend/internal/repository"
	"toll-reconciliation-backend/internal/services/reconciliation"
)

// chunkSize bounds the per-statement payload, not parallelism: chunks run
// strictly in sequence so duplicate bookkeeping stays deterministic.
const chunkSize = 500

// ErrNoRowsParsed means the mapping matched no data row. Reported as a
// validation failure, not a storage one.
var ErrNoRowsParsed = errors.New("no rows parsed, check the column mapping")

var defaultVatRate = decimal.NewFromInt(21)

// Result is the outcome of one import request. The import batch itself is
// transient; these counters are all that survives it.
type Result struct {
	ParsedRows   int                   `json:"parsedRows"`
	InsertedRows int                   `json:"insertedRows"`
	SkippedRows  int                   `json:"skippedRows"`
	DroppedRows  int                   `json:"droppedRows"`
	Reconcile    reconciliation.Result `json:"reconcile"`
	Warnings     []string              `json:"warnings"`
}

type Service struct {
	transactionRepo *repository.TollTransactionRepository
	matcher         *reconciliation.Service
}

func NewService(transactionRepo *repository.TollTransactionRepository, matcher *reconciliation.Service) *Service {
	return &Service{transactionRepo: transactionRepo, matcher: matcher}
}

// Import parses the payload, persists the rows idempotently and runs one
// reconciliation pass over whatever is new. Re-running the same file any
// number of times inserts exactly zero new rows after the first.
//
// A storage failure mid-way aborts the remaining chunks but the returned
// Result still carries everything inserted up to that point.
func (s *Service) Import(payload []byte, mapping parser.ColumnMapping) (Result, error) {
	parsed, err := parser.Parse(payload, mapping)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		ParsedRows:  len(parsed.Rows),
		DroppedRows: parsed.DroppedRows,
		// Keep unmatchedGroups an empty list, not null, when the matcher
		// never runs.
		Reconcile: reconciliation.Result{UnmatchedGroups: []reconciliation.UnmatchedGroup{}},
		Warnings:  parsed.Warnings(),
	}
	if len(parsed.Rows) == 0 {
		return res, ErrNoRowsParsed
	}

	includeTime, timeWarnings := importhash.DecideTime(parsed.Rows)
	res.Warnings = append(res.Warnings, timeWarnings...)

	txs := buildTransactions(parsed.Rows, includeTime)
	for start := 0; start < len(txs); start += chunkSize {
		end := start + chunkSize
		if end > len(txs) {
			end = len(txs)
		}
		inserted, skipped, err := s.transactionRepo.InsertChunk(txs[start:end])
		res.InsertedRows += inserted
		res.SkippedRows += skipped
		if err != nil {
			return res, err
		}
	}

	if res.InsertedRows > 0 {
		recon, err := s.matcher.Reconcile()
		if err != nil {
			// Import already committed; reconciliation can be re-run later
			// via the PATCH endpoint.
			log.Printf("reconciliation after import failed: %v", err)
			res.Warnings = append(res.Warnings, "import succeeded, reconciliation deferred: "+err.Error())
		} else {
			res.Reconcile = recon
		}
	}
	return res, nil
}

func buildTransactions(rows []parser.RawTollRow, includeTime bool) []models.TollTransaction {
	now := time.Now()
	txs := make([]models.TollTransaction, 0, len(rows))
	for _, row := range rows {
		txTime := row.TransactionTime
		if txTime == "" {
			txTime = parser.TimeSentinel
		}
		txs = append(txs, models.TollTransaction{
			ID:           uuid.New(),
			ImportHash: importhash.Sum(importhash.Input{
				LicensePlate:    row.LicensePlate,
				TransactionDate: row.TransactionDate,
				TransactionTime: row.TransactionTime,
				Amount:          row.Amount,
				Country:         row.Country,
				Location:        row.Location,
				IncludeTime:     includeTime,
			}),
			LicensePlate:    row.LicensePlate,
			TransactionDate: row.TransactionDate,
			TransactionTime: txTime,
			Amount:          row.Amount,
			VatRate:         defaultVatRate,
			Country:         row.Country,
			Location:        row.Location,
			Status:          models.StatusNew,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return txs
}
