package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"toll-reconciliation-backend/internal/models"
	"toll-reconciliation-backend/internal/repository"
)

// Validation errors surfaced to the caller as 400s.
var (
	ErrEmptySelection    = errors.New("no transaction ids given")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrMatchedNeedsLine  = errors.New("cannot set status matched on a transaction without an invoice line, use matchManual")
	ErrMixedPlateDate    = errors.New("selected transactions span more than one license plate or date")
	ErrMixedVatRates     = errors.New("selected transactions have mixed VAT rates")
	ErrInvoiceNotConcept = errors.New("invoice is not in concept status")
	ErrNoBlankLine       = errors.New("invoice has no blank toll line for this date and line creation is disabled")

	// ErrTransactionsNotFound maps to 404: some requested ids do not exist.
	ErrTransactionsNotFound = errors.New("one or more transactions not found")
)

// Toll status labels returned by manual matching.
const (
	TollStatusOpen   = "open_items_remaining"
	TollStatusPriced = "fully_priced"
)

// UnmatchedGroup describes one candidate group the matcher could not place.
type UnmatchedGroup struct {
	LicensePlate    string `json:"license_plate"`
	TransactionDate string `json:"transaction_date"`
	Reason          string `json:"reason"`
}

// Result summarizes one reconciliation run.
type Result struct {
	ProcessedTransactions int              `json:"processedTransactions"`
	MatchedTransactions   int              `json:"matchedTransactions"`
	UnmatchedGroups       []UnmatchedGroup `json:"unmatchedGroups"`
	UpdatedInvoiceLines   int              `json:"updatedInvoiceLines"`
}

// ManualMatchResult is returned by MatchManual so the caller can reflect
// invoice progress without a follow-up query.
type ManualMatchResult struct {
	InvoiceLineID    uuid.UUID       `json:"invoiceLineId"`
	Total            decimal.Decimal `json:"total"`
	VatRate          decimal.Decimal `json:"vat_rate"`
	InvoiceReference string          `json:"invoice_reference"`
	TollStatus       string          `json:"toll_status"`
}

type Service struct {
	invoiceRepo     *repository.InvoiceRepository
	transactionRepo *repository.TollTransactionRepository
	db              *gorm.DB
}

func NewService(
	invoiceRepo *repository.InvoiceRepository,
	transactionRepo *repository.TollTransactionRepository,
) *Service {
	return &Service{
		invoiceRepo:     invoiceRepo,
		transactionRepo: transactionRepo,
		db:              invoiceRepo.DB(),
	}
}

// dedupeIDs drops repeated ids, preserving order, so a selection that names
// the same transaction twice does not trip the existence check or double the
// group total.
func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// groupKey is the strict grouping key: one invoice line never mixes plates,
// days, VAT rates or countries.
type groupKey struct {
	plate   string
	date    string
	vat     string
	country string
}

// Reconcile scans all new transactions, groups them by plate, date, VAT rate
// and country, and links each group to a line on the plate's concept invoice
// for that period. Groups that cannot be placed are reported with a reason
// and stay new.
func (s *Service) Reconcile() (Result, error) {
	txs, err := s.transactionRepo.FindNew()
	if err != nil {
		return Result{}, err
	}

	groups := make(map[groupKey][]models.TollTransaction)
	for _, tx := range txs {
		key := groupKey{
			plate:   tx.LicensePlate,
			date:    tx.TransactionDate.Format("2006-01-02"),
			vat:     tx.VatRate.StringFixed(2),
			country: tx.Country,
		}
		groups[key] = append(groups[key], tx)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].plate != keys[j].plate {
			return keys[i].plate < keys[j].plate
		}
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		if keys[i].vat != keys[j].vat {
			return keys[i].vat < keys[j].vat
		}
		return keys[i].country < keys[j].country
	})

	res := Result{ProcessedTransactions: len(txs), UnmatchedGroups: []UnmatchedGroup{}}
	for _, key := range keys {
		group := groups[key]

		invoice, err := s.invoiceRepo.FindConceptForPlateDate(group[0].LicensePlate, group[0].TransactionDate)
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			res.UnmatchedGroups = append(res.UnmatchedGroups, UnmatchedGroup{
				LicensePlate:    key.plate,
				TransactionDate: key.date,
				Reason:          "no concept invoice for plate and date",
			})
			continue
		}
		if err != nil {
			// One group's lookup failing must not abort the rest of the run;
			// the group stays new and the reason says what went wrong.
			res.UnmatchedGroups = append(res.UnmatchedGroups, UnmatchedGroup{
				LicensePlate:    key.plate,
				TransactionDate: key.date,
				Reason:          "invoice lookup failed: " + err.Error(),
			})
			continue
		}

		if _, err := s.matchGroup(group, invoice, true, "system"); err != nil {
			res.UnmatchedGroups = append(res.UnmatchedGroups, UnmatchedGroup{
				LicensePlate:    key.plate,
				TransactionDate: key.date,
				Reason:          err.Error(),
			})
			continue
		}
		res.MatchedTransactions += len(group)
		res.UpdatedInvoiceLines++
	}
	return res, nil
}

// SetStatus bulk-transitions transactions between new, matched and ignored.
// Leaving matched clears the invoice line link. Entering matched is only
// permitted for transactions that still carry a line, so the status/link
// invariant holds by construction.
func (s *Service) SetStatus(ids []uuid.UUID, status string) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrEmptySelection
	}
	if !models.ValidStatus(status) {
		return 0, ErrInvalidStatus
	}
	ids = dedupeIDs(ids)

	txs, err := s.transactionRepo.GetByIDs(ids)
	if err != nil {
		return 0, err
	}
	if len(txs) != len(ids) {
		return 0, ErrTransactionsNotFound
	}
	if status == models.StatusMatched {
		for _, tx := range txs {
			if tx.InvoiceLineID == nil {
				return 0, ErrMatchedNeedsLine
			}
		}
	}

	updated, err := s.transactionRepo.SetStatus(ids, status)
	if err != nil {
		return 0, err
	}
	for _, tx := range txs {
		s.audit(s.db, tx.ID, "set_status", tx.InvoiceLineID, nil, "operator",
			fmt.Sprintf("%s -> %s", tx.Status, status), nil)
	}
	return updated, nil
}

// MatchManual forces a transaction group onto a caller-chosen invoice. The
// group must be one plate, one date and one VAT rate, and the invoice must
// still be a concept.
func (s *Service) MatchManual(ids []uuid.UUID, invoiceID uuid.UUID, createIfMissing bool) (ManualMatchResult, error) {
	if len(ids) == 0 {
		return ManualMatchResult{}, ErrEmptySelection
	}
	ids = dedupeIDs(ids)

	txs, err := s.transactionRepo.GetByIDs(ids)
	if err != nil {
		return ManualMatchResult{}, err
	}
	if len(txs) != len(ids) {
		return ManualMatchResult{}, ErrTransactionsNotFound
	}
	for _, tx := range txs[1:] {
		if tx.LicensePlate != txs[0].LicensePlate || !tx.TransactionDate.Equal(txs[0].TransactionDate) {
			return ManualMatchResult{}, ErrMixedPlateDate
		}
	}

	invoice, err := s.invoiceRepo.GetByID(invoiceID)
	if err != nil {
		return ManualMatchResult{}, err
	}
	if invoice.Status != models.InvoiceStatusConcept {
		return ManualMatchResult{}, ErrInvoiceNotConcept
	}

	line, err := s.matchGroup(txs, invoice, createIfMissing, "operator")
	if err != nil {
		return ManualMatchResult{}, err
	}

	status, err := s.tollStatus(invoice)
	if err != nil {
		return ManualMatchResult{}, err
	}
	return ManualMatchResult{
		InvoiceLineID:    line.ID,
		Total:            line.Total,
		VatRate:          line.VatRate,
		InvoiceReference: invoice.Reference,
		TollStatus:       status,
	}, nil
}

// matchGroup merges one uniform transaction group into an invoice line:
// fill the best-matching toll line for the date, or append a new one when
// createIfMissing allows. Line update and transaction transitions commit
// atomically.
func (s *Service) matchGroup(group []models.TollTransaction, invoice *models.Invoice, createIfMissing bool, actor string) (*models.InvoiceLine, error) {
	vat := group[0].VatRate
	for _, tx := range group[1:] {
		if !tx.VatRate.Equal(vat) {
			return nil, ErrMixedVatRates
		}
	}

	// Exact sum over the group, rounded once at the end.
	total := decimal.Zero
	for _, tx := range group {
		total = total.Add(tx.Amount)
	}
	total = total.Round(2)

	date := group[0].TransactionDate
	country := group[0].Country

	ids := make([]uuid.UUID, len(group))
	for i, tx := range group {
		ids[i] = tx.ID
	}

	var line models.InvoiceLine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Candidate selection runs inside the transaction with the line rows
		// locked, so two concurrent matches cannot both claim the same line.
		lines, err := s.invoiceRepo.LinesForUpdate(tx, invoice.ID)
		if err != nil {
			return err
		}
		target, err := s.pickTargetLine(tx, lines, date, country)
		if err != nil {
			return err
		}

		creating := false
		switch {
		case target != nil:
			line = *target
		case createIfMissing:
			creating = true
			line = models.InvoiceLine{
				ID:          uuid.New(),
				InvoiceID:   invoice.ID,
				Description: tollDescription(group[0].LicensePlate, date, country),
				CreatedAt:   time.Now(),
			}
		default:
			return ErrNoBlankLine
		}

		line.Quantity = decimal.NewFromInt(1)
		line.UnitPrice = total
		line.VatRate = vat
		line.Total = total
		line.UpdatedAt = time.Now()

		if creating {
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
		} else if err := tx.Save(&line).Error; err != nil {
			return err
		}
		if err := s.transactionRepo.MarkMatched(tx, ids, line.ID); err != nil {
			return err
		}
		action := "auto_match"
		if actor == "operator" {
			action = "manual_match"
		}
		for _, t := range group {
			details, _ := json.Marshal(map[string]interface{}{
				"amount":      t.Amount.String(),
				"import_hash": t.ImportHash,
				"line_total":  total.StringFixed(2),
			})
			s.audit(tx, t.ID, action, t.InvoiceLineID, &line.ID, actor, "", details)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoBlankLine) {
			log.Printf("match failed: invoice=%s plate=%s date=%s total=%s: %v",
				invoice.Reference, group[0].LicensePlate, date.Format("2006-01-02"), total.StringFixed(2), err)
		}
		return nil, err
	}
	return &line, nil
}

// pickTargetLine selects the line to fill for a toll group. Blank
// placeholders beat populated lines, and a description already labelled with
// the group's country beats a generic one. A populated line only qualifies
// while no transactions are attached to it (a re-match after an unmatch);
// a line that still bills another group is never overwritten. Runs within
// the caller's transaction so the linked counts cannot go stale before the
// line is written.
func (s *Service) pickTargetLine(tx *gorm.DB, lines []models.InvoiceLine, date time.Time, country string) (*models.InvoiceLine, error) {
	var candidates []*models.InvoiceLine
	for i := range lines {
		if isTollLineFor(lines[i].Description, date) {
			candidates = append(candidates, &lines[i])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, l := range candidates {
		ids[i] = l.ID
	}
	linked, err := s.transactionRepo.LinkedCounts(tx, ids)
	if err != nil {
		return nil, err
	}

	var best *models.InvoiceLine
	bestScore := -1
	for _, l := range candidates {
		if linked[l.ID] > 0 {
			continue
		}
		score := 0
		if l.IsBlankPlaceholder() {
			score += 2
		}
		if country != "" && strings.Contains(l.Description, "("+country+")") {
			score++
		}
		if score > bestScore {
			best, bestScore = l, score
		}
	}
	return best, nil
}

// isTollLineFor recognizes the invoicing subsystem's toll line convention:
// "Toll charges <plate> <dd-mm-yyyy>[ (<CC>)]".
func isTollLineFor(description string, date time.Time) bool {
	return strings.HasPrefix(description, "Toll charges") &&
		strings.Contains(description, date.Format("02-01-2006"))
}

func tollDescription(plate string, date time.Time, country string) string {
	desc := fmt.Sprintf("Toll charges %s %s", plate, date.Format("02-01-2006"))
	if country != "" {
		desc += " (" + country + ")"
	}
	return desc
}

// tollStatus derives the coarse invoice label: fully priced once no blank
// toll lines remain and no new transactions exist for the plate and period.
func (s *Service) tollStatus(invoice *models.Invoice) (string, error) {
	blanks, err := s.invoiceRepo.CountBlankTollLines(invoice.ID)
	if err != nil {
		return "", err
	}
	open, err := s.transactionRepo.CountNewForPlatePeriod(
		invoice.LicensePlate, invoice.PeriodStart, invoice.PeriodEnd)
	if err != nil {
		return "", err
	}
	if blanks == 0 && open == 0 {
		return TollStatusPriced, nil
	}
	return TollStatusOpen, nil
}

func (s *Service) audit(db *gorm.DB, txID uuid.UUID, action string, prev, next *uuid.UUID, actor, reason string, details []byte) {
	entry := models.TollMatchAudit{
		ID:            uuid.New(),
		TransactionID: txID,
		Action:        action,
		PreviousLine:  prev,
		NewLine:       next,
		PerformedBy:   actor,
		Reason:        reason,
		Details:       datatypes.JSON(details),
		CreatedAt:     time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		log.Printf("audit write failed for transaction %s: %v", txID, err)
	}
}

func (s *Service) InvoiceRepo() *repository.InvoiceRepository {
	return s.invoiceRepo
}

func (s *Service) TransactionRepo() *repository.TollTransactionRepository {
	return s.transactionRepo
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
