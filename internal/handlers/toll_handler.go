package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"toll-reconciliation-backend/internal/models"
	"toll-reconciliation-backend/internal/parser"
	"toll-reconciliation-backend/internal/repository"
	"toll-reconciliation-backend/internal/services/reconciliation"
	"toll-reconciliation-backend/internal/services/tollimport"
)

type TollHandler struct {
	importer *tollimport.Service
	matcher  *reconciliation.Service
}

func NewTollHandler(importer *tollimport.Service, matcher *reconciliation.Service) *TollHandler {
	return &TollHandler{importer: importer, matcher: matcher}
}

// Import handles POST /toll/import: a multipart spreadsheet plus a JSON
// column mapping. Authentication and the admin-role check are enforced
// upstream of this handler.
func (h *TollHandler) Import(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	mappingJSON := c.PostForm("column_mapping")
	if mappingJSON == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "column_mapping required"})
		return
	}
	var mapping parser.ColumnMapping
	if err := json.Unmarshal([]byte(mappingJSON), &mapping); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "column_mapping is not valid JSON"})
		return
	}

	payload, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload", "details": err.Error()})
		return
	}

	res, err := h.importer.Import(payload, mapping)
	if err != nil {
		var mappingErr *parser.MappingError
		switch {
		case errors.As(err, &mappingErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": mappingErr.Error()})
		case errors.Is(err, tollimport.ErrNoRowsParsed):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "warnings": res.Warnings})
		default:
			// Partial counts are surfaced so the operator can see what
			// committed before the failure.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":        "import failed",
				"details":      err.Error(),
				"parsedRows":   res.ParsedRows,
				"insertedRows": res.InsertedRows,
				"skippedRows":  res.SkippedRows,
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"parsedRows":   res.ParsedRows,
		"insertedRows": res.InsertedRows,
		"skippedRows":  res.SkippedRows,
		"droppedRows":  res.DroppedRows,
		"reconcile":    res.Reconcile,
		"warnings":     warningsOrEmpty(res.Warnings),
	})
}

type patchRequest struct {
	Action          string   `json:"action"`
	IDs             []string `json:"ids"`
	Status          string   `json:"status"`
	InvoiceID       string   `json:"invoiceId"`
	CreateIfMissing *bool    `json:"createIfMissing"`
}

// Patch handles PATCH /toll/transactions, dispatching on the action field.
func (h *TollHandler) Patch(c *gin.Context) {
	var req patchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch req.Action {
	case "setStatus":
		h.setStatus(c, req)
	case "reconcile":
		res, err := h.matcher.Reconcile()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "reconcile": res})
	case "matchManual":
		h.matchManual(c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

func (h *TollHandler) setStatus(c *gin.Context, req patchRequest) {
	ids, ok := parseIDs(c, req.IDs)
	if !ok {
		return
	}
	updated, err := h.matcher.SetStatus(ids, req.Status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}

func (h *TollHandler) matchManual(c *gin.Context, req patchRequest) {
	ids, ok := parseIDs(c, req.IDs)
	if !ok {
		return
	}
	if req.InvoiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId required"})
		return
	}
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
		return
	}

	createIfMissing := true
	if req.CreateIfMissing != nil {
		createIfMissing = *req.CreateIfMissing
	}

	res, err := h.matcher.MatchManual(ids, invoiceID, createIfMissing)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"invoiceLineId":     res.InvoiceLineID,
		"total":             res.Total,
		"vat_rate":          res.VatRate,
		"invoice_reference": res.InvoiceReference,
		"toll_status":       res.TollStatus,
	})
}

// ListTransactions handles GET /toll/transactions with status filter and
// cursor pagination.
func (h *TollHandler) ListTransactions(c *gin.Context) {
	status := c.Query("status")
	cursor := c.Query("cursor")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	items, nextCursor, hasMore, err := h.matcher.TransactionRepo().List(status, cursor, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

type createInvoiceRequest struct {
	Reference    string   `json:"reference"`
	CustomerName string   `json:"customer_name"`
	LicensePlate string   `json:"license_plate"`
	PeriodStart  string   `json:"period_start"` // yyyy-mm-dd
	PeriodEnd    string   `json:"period_end"`
	TollDates    []string `json:"toll_dates"` // blank placeholder per date
	Country      string   `json:"country"`
}

// CreateInvoice handles POST /toll/invoices. It stands in for the invoicing
// subsystem: a concept invoice with one blank toll placeholder per expected
// date, so the service is usable without the rest of the back office.
func (h *TollHandler) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Reference == "" || req.LicensePlate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference and license_plate required"})
		return
	}
	start, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_start, expected yyyy-mm-dd"})
		return
	}
	end, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_end, expected yyyy-mm-dd"})
		return
	}

	invoice := models.Invoice{
		ID:           uuid.New(),
		Reference:    req.Reference,
		CustomerName: req.CustomerName,
		LicensePlate: req.LicensePlate,
		PeriodStart:  start,
		PeriodEnd:    end,
		Status:       models.InvoiceStatusConcept,
		CreatedAt:    time.Now(),
	}

	var lines []models.InvoiceLine
	for _, raw := range req.TollDates {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid toll date: " + raw})
			return
		}
		desc := "Toll charges " + invoice.LicensePlate + " " + date.Format("02-01-2006")
		if req.Country != "" {
			desc += " (" + req.Country + ")"
		}
		lines = append(lines, models.InvoiceLine{
			ID:          uuid.New(),
			InvoiceID:   invoice.ID,
			Description: desc,
			Quantity:    decimal.Zero,
			UnitPrice:   decimal.Zero,
			VatRate:     decimal.Zero,
			Total:       decimal.Zero,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		})
	}

	if err := h.matcher.InvoiceRepo().CreateWithLines(&invoice, lines); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create invoice failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoice, "lines": len(lines)})
}

func parseIDs(c *gin.Context, raw []string) ([]uuid.UUID, bool) {
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids required"})
		return nil, false
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID: " + r})
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reconciliation.ErrTransactionsNotFound),
		errors.Is(err, repository.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reconciliation.ErrEmptySelection),
		errors.Is(err, reconciliation.ErrInvalidStatus),
		errors.Is(err, reconciliation.ErrMatchedNeedsLine),
		errors.Is(err, reconciliation.ErrMixedPlateDate),
		errors.Is(err, reconciliation.ErrMixedVatRates),
		errors.Is(err, reconciliation.ErrInvoiceNotConcept),
		errors.Is(err, reconciliation.ErrNoBlankLine):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected failure", "details": err.Error()})
	}
}

func warningsOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
