package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Invoice analysis status constants
const (
	AnalysisStatusPending     = "pending"
	AnalysisStatusCompleted   = "completed"
	AnalysisStatusNeedsReview = "needs_review"
)

// LineItem is a single extracted invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// LineItems is stored as a PostgreSQL JSONB column.
type LineItems []LineItem

// Value implements driver.Valuer for LineItems
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for LineItems
func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// Invoice represents a stored supplier invoice document.
// Created at ingestion time with analysis_status=pending, filled in once by
// the extraction step. A detected duplicate is deleted, not status-marked.
type Invoice struct {
	ID             string     `gorm:"column:id;primaryKey"`
	UserID         string     `gorm:"column:user_id;index"`
	FileName       string     `gorm:"column:file_name"`
	StoragePath    string     `gorm:"column:storage_path"`
	MimeType       string     `gorm:"column:mime_type"`
	SizeBytes      int64      `gorm:"column:size_bytes"`
	SourceEmail    string     `gorm:"column:source_email"`
	AnalysisStatus string     `gorm:"column:analysis_status;index"`
	InvoiceNumber  *string    `gorm:"column:invoice_number"`
	InvoiceDate    *time.Time `gorm:"column:invoice_date"`
	Vendor         *string    `gorm:"column:vendor"`
	LineItems      LineItems  `gorm:"column:line_items;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoice"
}

// ProcessedMessage marks a mailbox message as already ingested so an
// overlapping sync window does not re-ingest it.
type ProcessedMessage struct {
	MailboxID   string    `gorm:"column:mailbox_id;primaryKey"`
	MessageID   string    `gorm:"column:message_id;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (ProcessedMessage) TableName() string {
	return "processed_message"
}
