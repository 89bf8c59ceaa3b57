package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TollMatchAudit records every status or link change on a toll transaction,
// whether automatic or manual. Transactions themselves are never deleted, so
// together the two tables form the full reconciliation history.
type TollMatchAudit struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID      `gorm:"index" json:"transaction_id"`
	Action        string         `json:"action"`
	PreviousLine  *uuid.UUID     `gorm:"type:uuid" json:"previous_line"`
	NewLine       *uuid.UUID     `gorm:"type:uuid" json:"new_line"`
	PerformedBy   string         `json:"performed_by"`
	Reason        string         `json:"reason"`
	Details       datatypes.JSON `json:"details"`
	CreatedAt     time.Time      `json:"created_at"`
}
