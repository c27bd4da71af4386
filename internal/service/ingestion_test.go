package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/models"
)

func TestContentValid(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty text fails open", "", true},
		{"whitespace only fails open", "  \n\t ", true},
		{"invoice token accepted", "INVOICE #1001\nAcme Corp", true},
		{"lowercase invoice accepted", "Tax invoice for your order", true},
		{"missing invoice token rejected", "Packing slip for order 42", false},
		{"pro forma rejected", "PRO FORMA INVOICE\nAcme Corp", false},
		{"proforma one word rejected", "Proforma invoice #9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contentValid(tt.text); got != tt.want {
				t.Errorf("contentValid(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIngestor_DedupeFileName(t *testing.T) {
	taken := map[string]bool{
		"invoice.pdf":   true,
		"invoice_1.pdf": true,
	}
	invoices := &mockInvoiceStore{
		fileNameExistsFunc: func(ctx context.Context, userID, fileName string) (bool, error) {
			return taken[fileName], nil
		},
	}
	ing := NewIngestor(&mockSupplierStore{}, invoices, &mockProcessedStore{}, &mockDocStore{}, nil)

	tests := []struct {
		in   string
		want string
	}{
		{"statement.pdf", "statement.pdf"},
		{"invoice.pdf", "invoice_2.pdf"},
		{"noextension", "noextension"},
	}
	for _, tt := range tests {
		got, err := ing.dedupeFileName(context.Background(), "user-1", tt.in)
		if err != nil {
			t.Fatalf("dedupeFileName(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("dedupeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func ingestionFixtureProvider() *mockProvider {
	return &mockProvider{
		searchMessagesFunc: func(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
			return &mailprovider.MessagePage{Messages: []mailprovider.MessageStub{{ID: "m1"}, {ID: "m2"}}}, nil
		},
		getMessageFunc: func(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
			return &mailprovider.MessageDetail{
				ID:      messageID,
				From:    "billing@acme.com",
				Subject: "Invoice",
				Attachments: []mailprovider.AttachmentInfo{
					{ID: "a1", Filename: "invoice.pdf", MimeType: "application/pdf"},
				},
			}, nil
		},
	}
}

func ingestionSuppliers() *mockSupplierStore {
	return &mockSupplierStore{
		listByUserFunc: func(ctx context.Context, userID string) ([]models.AllowedSupplier, error) {
			return []models.AllowedSupplier{{UserID: userID, Email: "billing@acme.com", Status: models.SupplierStatusActive}}, nil
		},
	}
}

func TestIngestor_Run_IngestsAndMarksProcessed(t *testing.T) {
	var mu sync.Mutex
	var created []models.Invoice
	var uploaded []string
	marked := map[string]bool{}

	invoices := &mockInvoiceStore{
		createFunc: func(ctx context.Context, invoice models.Invoice) error {
			mu.Lock()
			defer mu.Unlock()
			created = append(created, invoice)
			return nil
		},
	}
	processed := &mockProcessedStore{
		markProcessedFunc: func(ctx context.Context, mailboxID, messageID string) error {
			mu.Lock()
			defer mu.Unlock()
			marked[messageID] = true
			return nil
		},
	}
	store := &mockDocStore{
		uploadFunc: func(ctx context.Context, key string, data []byte, contentType string) error {
			mu.Lock()
			defer mu.Unlock()
			uploaded = append(uploaded, key)
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), invoices, processed, store, nil)
	ing.pdfText = func(data []byte) (string, error) { return "Invoice #1001", nil }

	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1", EmailAddress: "seller@example.com"}
	result, err := ing.Run(context.Background(), mailbox, ingestionFixtureProvider(), "token", time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Ingested != 2 {
		t.Errorf("expected 2 ingested, got %d", result.Ingested)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 invoice rows, got %d", len(created))
	}
	if created[0].AnalysisStatus != models.AnalysisStatusPending {
		t.Errorf("expected pending status, got %s", created[0].AnalysisStatus)
	}
	if created[0].SourceEmail != "billing@acme.com" {
		t.Errorf("expected source email recorded, got %s", created[0].SourceEmail)
	}
	if len(uploaded) != 2 {
		t.Errorf("expected 2 uploads, got %d", len(uploaded))
	}
	if !marked["m1"] || !marked["m2"] {
		t.Errorf("expected both messages marked processed, got %v", marked)
	}
}

func TestIngestor_Run_SkipsProcessedMessages(t *testing.T) {
	gets := 0
	provider := ingestionFixtureProvider()
	provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
		gets++
		return &mailprovider.MessageDetail{ID: messageID}, nil
	}

	processed := &mockProcessedStore{
		isProcessedFunc: func(ctx context.Context, mailboxID, messageID string) (bool, error) {
			return messageID == "m1", nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), &mockInvoiceStore{}, processed, &mockDocStore{}, nil)
	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}

	result, err := ing.Run(context.Background(), mailbox, provider, "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gets != 1 {
		t.Errorf("expected only unprocessed message fetched, got %d fetches", gets)
	}
	if result.MessagesScanned != 1 {
		t.Errorf("expected 1 message scanned, got %d", result.MessagesScanned)
	}
}

func TestIngestor_Run_RejectionIsCountNotError(t *testing.T) {
	createCalls := 0
	invoices := &mockInvoiceStore{
		createFunc: func(ctx context.Context, invoice models.Invoice) error {
			createCalls++
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), invoices, &mockProcessedStore{}, &mockDocStore{}, nil)
	ing.pdfText = func(data []byte) (string, error) { return "PRO FORMA INVOICE", nil }

	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}
	result, err := ing.Run(context.Background(), mailbox, ingestionFixtureProvider(), "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Rejected != 2 {
		t.Errorf("expected 2 rejections, got %d", result.Rejected)
	}
	if len(result.Errors) != 0 {
		t.Errorf("rejections must not be errors, got %v", result.Errors)
	}
	if createCalls != 0 {
		t.Errorf("expected no invoice rows for rejected documents, got %d", createCalls)
	}
}

func TestIngestor_Run_UnreadableContentIngested(t *testing.T) {
	createCalls := 0
	invoices := &mockInvoiceStore{
		createFunc: func(ctx context.Context, invoice models.Invoice) error {
			createCalls++
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), invoices, &mockProcessedStore{}, &mockDocStore{}, nil)
	ing.pdfText = func(data []byte) (string, error) { return "", context.DeadlineExceeded }

	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}
	result, err := ing.Run(context.Background(), mailbox, ingestionFixtureProvider(), "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Rejected != 0 {
		t.Errorf("unreadable content must fail open, got %d rejections", result.Rejected)
	}
	if createCalls != 2 {
		t.Errorf("expected 2 invoice rows, got %d", createCalls)
	}
}

func TestIngestor_Run_FailedDownloadLeavesMessageUnprocessed(t *testing.T) {
	provider := ingestionFixtureProvider()
	provider.downloadAttachmentFunc = func(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}

	var mu sync.Mutex
	marked := map[string]bool{}
	processed := &mockProcessedStore{
		markProcessedFunc: func(ctx context.Context, mailboxID, messageID string) error {
			mu.Lock()
			defer mu.Unlock()
			marked[messageID] = true
			return nil
		},
	}
	createCalls := 0
	invoices := &mockInvoiceStore{
		createFunc: func(ctx context.Context, invoice models.Invoice) error {
			createCalls++
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), invoices, processed, &mockDocStore{}, nil)
	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}

	result, err := ing.Run(context.Background(), mailbox, provider, "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 download errors, got %v", result.Errors)
	}
	if createCalls != 0 {
		t.Errorf("expected no invoice rows, got %d", createCalls)
	}
	// A transient download failure must not burn the idempotency marker, or
	// the invoice is lost to every future run.
	if len(marked) != 0 {
		t.Errorf("expected failed messages left unmarked for retry, got %v", marked)
	}
}

func TestIngestor_Run_PartialAttachmentFailureLeavesMessageUnprocessed(t *testing.T) {
	provider := ingestionFixtureProvider()
	provider.getMessageFunc = func(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
		return &mailprovider.MessageDetail{
			ID:   messageID,
			From: "billing@acme.com",
			Attachments: []mailprovider.AttachmentInfo{
				{ID: "a-good", Filename: "invoice.pdf", MimeType: "application/pdf"},
				{ID: "a-bad", Filename: "invoice-copy.pdf", MimeType: "application/pdf"},
			},
		}, nil
	}
	provider.downloadAttachmentFunc = func(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
		if attachmentID == "a-bad" {
			return nil, context.DeadlineExceeded
		}
		return []byte("%PDF-1.4"), nil
	}
	provider.searchMessagesFunc = func(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
		return &mailprovider.MessagePage{Messages: []mailprovider.MessageStub{{ID: "m1"}}}, nil
	}

	var mu sync.Mutex
	marked := map[string]bool{}
	processed := &mockProcessedStore{
		markProcessedFunc: func(ctx context.Context, mailboxID, messageID string) error {
			mu.Lock()
			defer mu.Unlock()
			marked[messageID] = true
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), &mockInvoiceStore{}, processed, &mockDocStore{}, nil)
	ing.pdfText = func(data []byte) (string, error) { return "Invoice #1001", nil }
	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}

	result, err := ing.Run(context.Background(), mailbox, provider, "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Ingested != 1 {
		t.Errorf("expected the good attachment ingested, got %d", result.Ingested)
	}
	if len(marked) != 0 {
		t.Errorf("expected message with one failed attachment left unmarked, got %v", marked)
	}
}

func TestIngestor_Run_RejectedMessageStillMarkedProcessed(t *testing.T) {
	var mu sync.Mutex
	marked := map[string]bool{}
	processed := &mockProcessedStore{
		markProcessedFunc: func(ctx context.Context, mailboxID, messageID string) error {
			mu.Lock()
			defer mu.Unlock()
			marked[messageID] = true
			return nil
		},
	}

	ing := NewIngestor(ingestionSuppliers(), &mockInvoiceStore{}, processed, &mockDocStore{}, nil)
	ing.pdfText = func(data []byte) (string, error) { return "PRO FORMA INVOICE", nil }
	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}

	_, err := ing.Run(context.Background(), mailbox, ingestionFixtureProvider(), "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Validation rejection is a terminal decision, not a transient failure;
	// re-scanning the same pro-forma document every run is wasted work.
	if !marked["m1"] || !marked["m2"] {
		t.Errorf("expected rejected messages marked processed, got %v", marked)
	}
}

func TestIngestor_Run_NoSuppliersIsNoop(t *testing.T) {
	searches := 0
	provider := &mockProvider{
		searchMessagesFunc: func(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
			searches++
			return &mailprovider.MessagePage{}, nil
		},
	}

	ing := NewIngestor(&mockSupplierStore{}, &mockInvoiceStore{}, &mockProcessedStore{}, &mockDocStore{}, nil)
	mailbox := &models.Mailbox{ID: "mb-1", UserID: "user-1"}

	result, err := ing.Run(context.Background(), mailbox, provider, "token", time.Time{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if searches != 0 {
		t.Errorf("expected no searches without suppliers, got %d", searches)
	}
	if result.Ingested != 0 {
		t.Errorf("expected nothing ingested, got %d", result.Ingested)
	}
}
