package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recoupapp/recoup-worker/internal/models"
	"gorm.io/gorm"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts a new invoice row
func (r *InvoiceRepository) Create(ctx context.Context, invoice models.Invoice) error {
	if err := r.db.WithContext(ctx).Create(&invoice).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	result := r.db.WithContext(ctx).First(&invoice, "id = ?", invoiceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", result.Error)
	}
	return &invoice, nil
}

// FileNameExists reports whether the owner already has a file under this
// name. Used by the counter-suffix de-duplication.
func (r *InvoiceRepository) FileNameExists(ctx context.Context, userID, fileName string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("user_id = ? AND file_name = ?", userID, fileName).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check file name: %w", result.Error)
	}
	return count > 0, nil
}

// FindByVendorAndDate retrieves an owner's invoices with the same extracted
// vendor and invoice date. Input for duplicate detection.
func (r *InvoiceRepository) FindByVendorAndDate(ctx context.Context, userID, vendor string, date time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND vendor = ? AND invoice_date = ?", userID, vendor, date.Format("2006-01-02")).
		Find(&invoices)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", result.Error)
	}
	return invoices, nil
}

// ListPending retrieves invoices still awaiting extraction, used to re-drive
// a stuck extraction pass. The cutoff excludes rows whose first extraction
// attempt may still be in flight.
func (r *InvoiceRepository) ListPending(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND analysis_status = ? AND created_at < ?", userID, models.AnalysisStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query pending invoices: %w", result.Error)
	}
	return invoices, nil
}

// UpdateExtraction writes the extracted fields and the resulting analysis
// status in one shot.
func (r *InvoiceRepository) UpdateExtraction(ctx context.Context, invoiceID string, invoiceNumber *string, invoiceDate *time.Time, vendor *string, lineItems models.LineItems, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{
			"invoice_number":  invoiceNumber,
			"invoice_date":    invoiceDate,
			"vendor":          vendor,
			"line_items":      lineItems,
			"analysis_status": status,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update extraction: %w", result.Error)
	}
	return nil
}

// Delete removes an invoice row outright. Duplicates are removed, not
// status-marked.
func (r *InvoiceRepository) Delete(ctx context.Context, invoiceID string) error {
	result := r.db.WithContext(ctx).Delete(&models.Invoice{}, "id = ?", invoiceID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete invoice: %w", result.Error)
	}
	return nil
}
