package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/recoupapp/recoup-worker/internal/docstore"
	"github.com/recoupapp/recoup-worker/internal/extract"
	"github.com/recoupapp/recoup-worker/internal/models"
)

// Outcome classifies how an extraction pass ended for one invoice.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeDuplicate   Outcome = "duplicate"
)

// pendingRetryAge keeps the retry pass away from invoices whose first
// extraction attempt may still be in flight.
const pendingRetryAge = 15 * time.Minute

// InvoiceResolverStore interface for dependency injection
type InvoiceResolverStore interface {
	GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error)
	FindByVendorAndDate(ctx context.Context, userID, vendor string, date time.Time) ([]models.Invoice, error)
	ListPending(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.Invoice, error)
	UpdateExtraction(ctx context.Context, invoiceID string, invoiceNumber *string, invoiceDate *time.Time, vendor *string, lineItems models.LineItems, status string) error
	Delete(ctx context.Context, invoiceID string) error
}

// ExtractClient interface for dependency injection
type ExtractClient interface {
	ExtractInvoice(ctx context.Context, text string, cfg extract.ParserConfig) (*extract.InvoiceData, error)
}

// Extractor runs structured extraction on a stored invoice and resolves true
// duplicates. Duplicate detection needs the extracted fields, so the invoice
// row already exists by the time it runs; a detected duplicate is deleted
// outright, storage object included.
type Extractor struct {
	invoices InvoiceResolverStore
	client   ExtractClient
	store    docstore.Store
	cfg      extract.ParserConfig
}

func NewExtractor(invoices InvoiceResolverStore, client ExtractClient, store docstore.Store, cfg extract.ParserConfig) *Extractor {
	return &Extractor{
		invoices: invoices,
		client:   client,
		store:    store,
		cfg:      cfg,
	}
}

// ProcessInvoice extracts fields from the document text, deletes the invoice
// if it is a true duplicate, and otherwise persists the extracted fields.
// Completed requires a found date; a dateless invoice needs a human before it
// can be reconciled.
func (e *Extractor) ProcessInvoice(ctx context.Context, invoiceID, text string) (Outcome, error) {
	invoice, err := e.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("failed to load invoice: %w", err)
	}

	data, err := e.client.ExtractInvoice(ctx, text, e.cfg)
	if err != nil {
		return "", fmt.Errorf("extraction failed: %w", err)
	}

	var invoiceDate *time.Time
	if data.InvoiceDate != "" {
		if d, err := time.Parse("2006-01-02", data.InvoiceDate); err == nil {
			invoiceDate = &d
		}
	}

	lineItems := toModelLineItems(data.LineItems)

	if data.Vendor != "" && invoiceDate != nil {
		dup, err := e.findDuplicate(ctx, invoice, data.Vendor, *invoiceDate, lineItems)
		if err != nil {
			return "", err
		}
		if dup {
			if err := e.store.Delete(ctx, invoice.StoragePath); err != nil {
				log.Printf("Failed to delete storage object %s for duplicate invoice %s: %v", invoice.StoragePath, invoice.ID, err)
			}
			if err := e.invoices.Delete(ctx, invoice.ID); err != nil {
				return "", fmt.Errorf("failed to delete duplicate invoice: %w", err)
			}
			log.Printf("Invoice %s (%s) removed as duplicate", invoice.ID, invoice.FileName)
			return OutcomeDuplicate, nil
		}
	}

	status := models.AnalysisStatusNeedsReview
	outcome := OutcomeNeedsReview
	if invoiceDate != nil {
		status = models.AnalysisStatusCompleted
		outcome = OutcomeCompleted
	}

	var invoiceNumber, vendor *string
	if data.InvoiceNumber != "" {
		invoiceNumber = &data.InvoiceNumber
	}
	if data.Vendor != "" {
		vendor = &data.Vendor
	}

	if err := e.invoices.UpdateExtraction(ctx, invoice.ID, invoiceNumber, invoiceDate, vendor, lineItems, status); err != nil {
		return "", fmt.Errorf("failed to persist extraction: %w", err)
	}
	return outcome, nil
}

// ProcessPending re-drives extraction for invoices stuck in pending, reading
// the document back from storage. Per-invoice failures are logged and counted,
// not raised.
func (e *Extractor) ProcessPending(ctx context.Context, userID string, limit int) (processed int, err error) {
	cutoff := time.Now().Add(-pendingRetryAge)
	pending, err := e.invoices.ListPending(ctx, userID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending invoices: %w", err)
	}

	for _, invoice := range pending {
		data, err := e.store.Download(ctx, invoice.StoragePath)
		if err != nil {
			log.Printf("Retry extraction: failed to download %s: %v", invoice.StoragePath, err)
			continue
		}
		text, err := extract.FirstPageText(data)
		if err != nil {
			text = ""
		}
		if _, err := e.ProcessInvoice(ctx, invoice.ID, text); err != nil {
			log.Printf("Retry extraction for invoice %s failed: %v", invoice.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// findDuplicate reports whether an existing invoice of the same owner matches
// on vendor, date, base file name, and byte-identical line items.
func (e *Extractor) findDuplicate(ctx context.Context, invoice *models.Invoice, vendor string, date time.Time, lineItems models.LineItems) (bool, error) {
	candidates, err := e.invoices.FindByVendorAndDate(ctx, invoice.UserID, vendor, date)
	if err != nil {
		return false, fmt.Errorf("failed to query duplicate candidates: %w", err)
	}

	base := baseFileName(invoice.FileName)
	for _, cand := range candidates {
		if cand.ID == invoice.ID {
			continue
		}
		if baseFileName(cand.FileName) != base {
			continue
		}
		if lineItemsEqual(cand.LineItems, lineItems) {
			return true, nil
		}
	}
	return false, nil
}

// baseFileName strips the ingestion counter suffix so invoice.pdf and
// invoice_1.pdf compare as the same document name.
func baseFileName(fileName string) string {
	base, ext := splitExt(fileName)
	if i := strings.LastIndex(base, "_"); i > 0 && i < len(base)-1 {
		digits := base[i+1:]
		allDigits := true
		for _, r := range digits {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return base[:i] + ext
		}
	}
	return base + ext
}

// lineItemsEqual compares the serialized forms, matching how the column is
// stored.
func lineItemsEqual(a, b models.LineItems) bool {
	if len(a) != len(b) {
		return false
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

func toModelLineItems(items []extract.LineItem) models.LineItems {
	if len(items) == 0 {
		return nil
	}
	out := make(models.LineItems, 0, len(items))
	for _, it := range items {
		out = append(out, models.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.Total,
		})
	}
	return out
}
