package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recoupapp/recoup-worker/internal/docstore"
	"github.com/recoupapp/recoup-worker/internal/extract"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/models"
)

// AttachmentDownloadLimit bounds concurrent attachment downloads per message.
const AttachmentDownloadLimit = 3

// InvoiceStore interface for dependency injection
type InvoiceStore interface {
	Create(ctx context.Context, invoice models.Invoice) error
	FileNameExists(ctx context.Context, userID, fileName string) (bool, error)
}

// ProcessedMessageStore interface for dependency injection
type ProcessedMessageStore interface {
	IsProcessed(ctx context.Context, mailboxID, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, mailboxID, messageID string) error
}

// SupplierLister interface for dependency injection
type SupplierLister interface {
	ListByUser(ctx context.Context, userID string) ([]models.AllowedSupplier, error)
}

// InvoiceExtractor is the asynchronous extraction hand-off target.
type InvoiceExtractor interface {
	ProcessInvoice(ctx context.Context, invoiceID, text string) (Outcome, error)
}

// Ingestor pulls PDF attachments from allowed suppliers' messages, validates
// them, stores them, and hands extraction off asynchronously.
type Ingestor struct {
	suppliers SupplierLister
	invoices  InvoiceStore
	processed ProcessedMessageStore
	store     docstore.Store
	extractor InvoiceExtractor // nil disables the hand-off
	PageSize  int
	MaxPages  int

	// pdfText is swappable in tests; the real one parses PDF bytes.
	pdfText func(data []byte) (string, error)
}

func NewIngestor(
	suppliers SupplierLister,
	invoices InvoiceStore,
	processed ProcessedMessageStore,
	store docstore.Store,
	extractor InvoiceExtractor,
) *Ingestor {
	return &Ingestor{
		suppliers: suppliers,
		invoices:  invoices,
		processed: processed,
		store:     store,
		extractor: extractor,
		PageSize:  50,
		MaxPages:  20,
		pdfText:   extract.FirstPageText,
	}
}

// IngestResult summarizes one ingestion pass over one mailbox.
type IngestResult struct {
	MessagesScanned  int
	AttachmentsFound int
	Ingested         int
	Rejected         int
	Errors           []string
}

// Run ingests PDF attachments from the mailbox's allowed suppliers within the
// window. Per-attachment failures are collected into the result; only
// pass-level failures (search errors, auth) return an error.
func (ing *Ingestor) Run(ctx context.Context, mailbox *models.Mailbox, provider mailprovider.Provider, accessToken string, after time.Time) (*IngestResult, error) {
	result := &IngestResult{}

	suppliers, err := ing.suppliers.ListByUser(ctx, mailbox.UserID)
	if err != nil {
		return result, fmt.Errorf("failed to list suppliers: %w", err)
	}
	if len(suppliers) == 0 {
		log.Printf("Ingestion for mailbox %s: no allowed suppliers yet", mailbox.ID)
		return result, nil
	}

	for _, supplier := range suppliers {
		if err := ing.ingestFromSender(ctx, mailbox, provider, accessToken, after, supplier, result); err != nil {
			return result, err
		}
	}

	log.Printf("Ingestion for mailbox %s: scanned=%d found=%d ingested=%d rejected=%d errors=%d",
		mailbox.ID, result.MessagesScanned, result.AttachmentsFound, result.Ingested, result.Rejected, len(result.Errors))
	return result, nil
}

func (ing *Ingestor) ingestFromSender(ctx context.Context, mailbox *models.Mailbox, provider mailprovider.Provider, accessToken string, after time.Time, supplier models.AllowedSupplier, result *IngestResult) error {
	pageToken := ""
	for page := 0; page < ing.MaxPages; page++ {
		msgPage, err := provider.SearchMessages(ctx, accessToken, mailprovider.Query{
			HasAttachment: true,
			After:         after,
			FromSender:    supplier.Email,
			PageSize:      ing.PageSize,
			PageToken:     pageToken,
		})
		if err != nil {
			return fmt.Errorf("failed to search messages from %s: %w", supplier.Email, err)
		}

		for _, stub := range msgPage.Messages {
			done, err := ing.processed.IsProcessed(ctx, mailbox.ID, stub.ID)
			if err != nil {
				return fmt.Errorf("failed to check processed marker: %w", err)
			}
			if done {
				continue
			}
			result.MessagesScanned++

			complete, err := ing.ingestMessage(ctx, mailbox, provider, accessToken, supplier, stub.ID, result)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("message %s: %v", stub.ID, err))
				continue
			}
			if !complete {
				// An attachment failed; leave the message unmarked so the
				// next run retries it.
				continue
			}

			if err := ing.processed.MarkProcessed(ctx, mailbox.ID, stub.ID); err != nil {
				return fmt.Errorf("failed to mark message processed: %w", err)
			}
		}

		pageToken = msgPage.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return nil
}

type downloadedAttachment struct {
	info mailprovider.AttachmentInfo
	data []byte
	err  error
}

// ingestMessage downloads the message's PDF attachments with bounded
// concurrency, then validates and persists them serially. It reports whether
// every attachment was handled (ingested or validation-rejected); a message
// with a failed attachment must not get its processed marker, or the invoice
// would be skipped on every future run.
func (ing *Ingestor) ingestMessage(ctx context.Context, mailbox *models.Mailbox, provider mailprovider.Provider, accessToken string, supplier models.AllowedSupplier, messageID string, result *IngestResult) (bool, error) {
	detail, err := provider.GetMessage(ctx, accessToken, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to get message: %w", err)
	}

	var pdfs []mailprovider.AttachmentInfo
	for _, a := range detail.Attachments {
		if mailprovider.IsPDF(a) {
			pdfs = append(pdfs, a)
		}
	}
	if len(pdfs) == 0 {
		return true, nil
	}
	result.AttachmentsFound += len(pdfs)

	downloads := make([]downloadedAttachment, len(pdfs))
	sem := make(chan struct{}, AttachmentDownloadLimit)
	var wg sync.WaitGroup
	for i, att := range pdfs {
		wg.Add(1)
		go func(i int, att mailprovider.AttachmentInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			data, err := provider.DownloadAttachment(ctx, accessToken, messageID, att.ID)
			downloads[i] = downloadedAttachment{info: att, data: data, err: err}
		}(i, att)
	}
	wg.Wait()

	complete := true
	for _, dl := range downloads {
		if dl.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attachment %s: download failed: %v", dl.info.Filename, dl.err))
			complete = false
			continue
		}
		if err := ing.persistAttachment(ctx, mailbox, supplier, dl, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attachment %s: %v", dl.info.Filename, err))
			complete = false
		}
	}
	return complete, nil
}

func (ing *Ingestor) persistAttachment(ctx context.Context, mailbox *models.Mailbox, supplier models.AllowedSupplier, dl downloadedAttachment, result *IngestResult) error {
	text, err := ing.pdfText(dl.data)
	if err != nil {
		// Unreadable content validates as acceptable; scanned images
		// cannot be checked cheaply.
		text = ""
	}
	if !contentValid(text) {
		result.Rejected++
		log.Printf("Ingestion: rejected %s from %s by content validation", dl.info.Filename, supplier.Email)
		return nil
	}

	fileName, err := ing.dedupeFileName(ctx, mailbox.UserID, dl.info.Filename)
	if err != nil {
		return err
	}

	key := docstore.Key(mailbox.UserID, fileName)
	mimeType := dl.info.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	if err := ing.store.Upload(ctx, key, dl.data, mimeType); err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	invoice := models.Invoice{
		ID:             uuid.New().String(),
		UserID:         mailbox.UserID,
		FileName:       fileName,
		StoragePath:    key,
		MimeType:       mimeType,
		SizeBytes:      int64(len(dl.data)),
		SourceEmail:    supplier.Email,
		AnalysisStatus: models.AnalysisStatusPending,
	}
	if err := ing.invoices.Create(ctx, invoice); err != nil {
		return fmt.Errorf("failed to create invoice row: %w", err)
	}
	result.Ingested++

	// Extraction runs detached from the sync call: a stuck extraction is
	// retried later by re-scanning pending invoices, never by failing the
	// ingestion pass.
	if ing.extractor != nil {
		bg := context.WithoutCancel(ctx)
		go func() {
			if _, err := ing.extractor.ProcessInvoice(bg, invoice.ID, text); err != nil {
				log.Printf("Extraction hand-off for invoice %s failed: %v", invoice.ID, err)
			}
		}()
	}
	return nil
}

// contentValid applies the page-1 text rules: empty text is acceptable (fail
// open), text must mention "invoice", and pro-forma documents are rejected
// because they are not proof of purchase.
func contentValid(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "pro forma") || strings.Contains(lower, "proforma") {
		return false
	}
	return strings.Contains(lower, "invoice")
}

// dedupeFileName appends a numeric suffix until the name is free for this
// owner: invoice.pdf, invoice_1.pdf, invoice_2.pdf, ...
func (ing *Ingestor) dedupeFileName(ctx context.Context, userID, fileName string) (string, error) {
	exists, err := ing.invoices.FileNameExists(ctx, userID, fileName)
	if err != nil {
		return "", fmt.Errorf("failed to check file name: %w", err)
	}
	if !exists {
		return fileName, nil
	}

	base, ext := splitExt(fileName)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		exists, err := ing.invoices.FileNameExists(ctx, userID, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check file name: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
}

func splitExt(fileName string) (base, ext string) {
	if i := strings.LastIndex(fileName, "."); i > 0 {
		return fileName[:i], fileName[i:]
	}
	return fileName, ""
}
