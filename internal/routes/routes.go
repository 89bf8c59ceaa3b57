package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	handler "toll-reconciliation-backend/internal/handlers"
	"toll-reconciliation-backend/internal/repository"
	"toll-reconciliation-backend/internal/services/reconciliation"
	"toll-reconciliation-backend/internal/services/tollimport"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB) {
	invoiceRepo := repository.NewInvoiceRepository(db)
	transactionRepo := repository.NewTollTransactionRepository(db)

	matcher := reconciliation.NewService(invoiceRepo, transactionRepo)
	importer := tollimport.NewService(transactionRepo, matcher)

	tollHandler := handler.NewTollHandler(importer, matcher)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	toll := r.Group("/toll")
	toll.POST("/import", tollHandler.Import)
	toll.PATCH("/transactions", tollHandler.Patch)
	toll.GET("/transactions", tollHandler.ListTransactions)
	toll.POST("/invoices", tollHandler.CreateInvoice)
}
