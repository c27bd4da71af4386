package models

import "time"

// Allowed supplier status constants
const (
	SupplierStatusSuggested = "suggested"
	SupplierStatusActive    = "active"
)

// AllowedSupplier is a sender address approved (or suggested) as a supplier.
// (user_id, email) is unique; conflicting inserts are ignored so a user's
// manual edits are never overwritten by a later discovery run.
type AllowedSupplier struct {
	ID              string    `gorm:"column:id;primaryKey"`
	UserID          string    `gorm:"column:user_id;index"`
	Email           string    `gorm:"column:email"`
	Label           string    `gorm:"column:label"`
	SourceMailboxID string    `gorm:"column:source_mailbox_id"`
	SourceProvider  string    `gorm:"column:source_provider"`
	Status          string    `gorm:"column:status"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (AllowedSupplier) TableName() string {
	return "allowed_supplier"
}
