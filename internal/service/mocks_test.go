package service

import (
	"context"
	"time"

	"github.com/recoupapp/recoup-worker/internal/extract"
	"github.com/recoupapp/recoup-worker/internal/fulfillment"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/models"
)

type mockProvider struct {
	name                   string
	refreshTokenFunc       func(ctx context.Context, refreshToken string) (*mailprovider.TokenResult, error)
	searchMessagesFunc     func(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error)
	getMessageFunc         func(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error)
	downloadAttachmentFunc func(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error)
}

func (m *mockProvider) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m *mockProvider) RefreshToken(ctx context.Context, refreshToken string) (*mailprovider.TokenResult, error) {
	if m.refreshTokenFunc != nil {
		return m.refreshTokenFunc(ctx, refreshToken)
	}
	return &mailprovider.TokenResult{AccessToken: "fresh-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockProvider) SearchMessages(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
	if m.searchMessagesFunc != nil {
		return m.searchMessagesFunc(ctx, accessToken, q)
	}
	return &mailprovider.MessagePage{}, nil
}

func (m *mockProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
	if m.getMessageFunc != nil {
		return m.getMessageFunc(ctx, accessToken, messageID)
	}
	return &mailprovider.MessageDetail{ID: messageID}, nil
}

func (m *mockProvider) DownloadAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	if m.downloadAttachmentFunc != nil {
		return m.downloadAttachmentFunc(ctx, accessToken, messageID, attachmentID)
	}
	return []byte("%PDF-1.4"), nil
}

type mockSupplierStore struct {
	insertIgnoreFunc func(ctx context.Context, supplier models.AllowedSupplier) (bool, error)
	listByUserFunc   func(ctx context.Context, userID string) ([]models.AllowedSupplier, error)
}

func (m *mockSupplierStore) InsertIgnore(ctx context.Context, supplier models.AllowedSupplier) (bool, error) {
	if m.insertIgnoreFunc != nil {
		return m.insertIgnoreFunc(ctx, supplier)
	}
	return true, nil
}

func (m *mockSupplierStore) ListByUser(ctx context.Context, userID string) ([]models.AllowedSupplier, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID)
	}
	return nil, nil
}

type mockInvoiceStore struct {
	createFunc              func(ctx context.Context, invoice models.Invoice) error
	fileNameExistsFunc      func(ctx context.Context, userID, fileName string) (bool, error)
	getByIDFunc             func(ctx context.Context, invoiceID string) (*models.Invoice, error)
	findByVendorAndDateFunc func(ctx context.Context, userID, vendor string, date time.Time) ([]models.Invoice, error)
	listPendingFunc         func(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.Invoice, error)
	updateExtractionFunc    func(ctx context.Context, invoiceID string, invoiceNumber *string, invoiceDate *time.Time, vendor *string, lineItems models.LineItems, status string) error
	deleteFunc              func(ctx context.Context, invoiceID string) error
}

func (m *mockInvoiceStore) Create(ctx context.Context, invoice models.Invoice) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, invoice)
	}
	return nil
}

func (m *mockInvoiceStore) FileNameExists(ctx context.Context, userID, fileName string) (bool, error) {
	if m.fileNameExistsFunc != nil {
		return m.fileNameExistsFunc(ctx, userID, fileName)
	}
	return false, nil
}

func (m *mockInvoiceStore) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, invoiceID)
	}
	return &models.Invoice{ID: invoiceID}, nil
}

func (m *mockInvoiceStore) FindByVendorAndDate(ctx context.Context, userID, vendor string, date time.Time) ([]models.Invoice, error) {
	if m.findByVendorAndDateFunc != nil {
		return m.findByVendorAndDateFunc(ctx, userID, vendor, date)
	}
	return nil, nil
}

func (m *mockInvoiceStore) ListPending(ctx context.Context, userID string, olderThan time.Time, limit int) ([]models.Invoice, error) {
	if m.listPendingFunc != nil {
		return m.listPendingFunc(ctx, userID, olderThan, limit)
	}
	return nil, nil
}

func (m *mockInvoiceStore) UpdateExtraction(ctx context.Context, invoiceID string, invoiceNumber *string, invoiceDate *time.Time, vendor *string, lineItems models.LineItems, status string) error {
	if m.updateExtractionFunc != nil {
		return m.updateExtractionFunc(ctx, invoiceID, invoiceNumber, invoiceDate, vendor, lineItems, status)
	}
	return nil
}

func (m *mockInvoiceStore) Delete(ctx context.Context, invoiceID string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, invoiceID)
	}
	return nil
}

type mockProcessedStore struct {
	isProcessedFunc   func(ctx context.Context, mailboxID, messageID string) (bool, error)
	markProcessedFunc func(ctx context.Context, mailboxID, messageID string) error
}

func (m *mockProcessedStore) IsProcessed(ctx context.Context, mailboxID, messageID string) (bool, error) {
	if m.isProcessedFunc != nil {
		return m.isProcessedFunc(ctx, mailboxID, messageID)
	}
	return false, nil
}

func (m *mockProcessedStore) MarkProcessed(ctx context.Context, mailboxID, messageID string) error {
	if m.markProcessedFunc != nil {
		return m.markProcessedFunc(ctx, mailboxID, messageID)
	}
	return nil
}

type mockDocStore struct {
	uploadFunc   func(ctx context.Context, key string, data []byte, contentType string) error
	downloadFunc func(ctx context.Context, key string) ([]byte, error)
	deleteFunc   func(ctx context.Context, key string) error
}

func (m *mockDocStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, key, data, contentType)
	}
	return nil
}

func (m *mockDocStore) Download(ctx context.Context, key string) ([]byte, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockDocStore) Delete(ctx context.Context, key string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, key)
	}
	return nil
}

type mockExtractClient struct {
	extractInvoiceFunc func(ctx context.Context, text string, cfg extract.ParserConfig) (*extract.InvoiceData, error)
}

func (m *mockExtractClient) ExtractInvoice(ctx context.Context, text string, cfg extract.ParserConfig) (*extract.InvoiceData, error) {
	if m.extractInvoiceFunc != nil {
		return m.extractInvoiceFunc(ctx, text, cfg)
	}
	return &extract.InvoiceData{}, nil
}

type mockMailboxStore struct {
	getByIDFunc             func(ctx context.Context, mailboxID string) (*models.Mailbox, error)
	listSyncableFunc        func(ctx context.Context, userID string) ([]models.Mailbox, error)
	updateTokensFunc        func(ctx context.Context, mailboxID, encAccessToken, encRefreshToken string, expiry time.Time) error
	setNeedsReauthFunc      func(ctx context.Context, mailboxID string) error
	markInitialSyncDoneFunc func(ctx context.Context, mailboxID string) error
}

func (m *mockMailboxStore) GetByID(ctx context.Context, mailboxID string) (*models.Mailbox, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, mailboxID)
	}
	return &models.Mailbox{ID: mailboxID}, nil
}

func (m *mockMailboxStore) ListSyncable(ctx context.Context, userID string) ([]models.Mailbox, error) {
	if m.listSyncableFunc != nil {
		return m.listSyncableFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockMailboxStore) UpdateTokens(ctx context.Context, mailboxID, encAccessToken, encRefreshToken string, expiry time.Time) error {
	if m.updateTokensFunc != nil {
		return m.updateTokensFunc(ctx, mailboxID, encAccessToken, encRefreshToken, expiry)
	}
	return nil
}

func (m *mockMailboxStore) SetNeedsReauth(ctx context.Context, mailboxID string) error {
	if m.setNeedsReauthFunc != nil {
		return m.setNeedsReauthFunc(ctx, mailboxID)
	}
	return nil
}

func (m *mockMailboxStore) MarkInitialSyncDone(ctx context.Context, mailboxID string) error {
	if m.markInitialSyncDoneFunc != nil {
		return m.markInitialSyncDoneFunc(ctx, mailboxID)
	}
	return nil
}

// mockVault passes tokens through with a reversible prefix.
type mockVault struct{}

func (mockVault) EncryptString(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (mockVault) DecryptString(encoded string) (string, error) {
	if len(encoded) > 4 && encoded[:4] == "enc:" {
		return encoded[4:], nil
	}
	return encoded, nil
}

type mockCredentialStore struct {
	getByIDFunc                   func(ctx context.Context, credentialID string) (*models.FulfillmentCredential, error)
	listActiveFunc                func(ctx context.Context, userID string) ([]models.FulfillmentCredential, error)
	advanceSyncWatermarkFunc      func(ctx context.Context, credentialID string, t time.Time) error
	advanceClaimSyncWatermarkFunc func(ctx context.Context, credentialID string, t time.Time) error
	setRevokedFunc                func(ctx context.Context, credentialID string) error
}

func (m *mockCredentialStore) GetByID(ctx context.Context, credentialID string) (*models.FulfillmentCredential, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, credentialID)
	}
	return &models.FulfillmentCredential{ID: credentialID}, nil
}

func (m *mockCredentialStore) ListActive(ctx context.Context, userID string) ([]models.FulfillmentCredential, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockCredentialStore) AdvanceSyncWatermark(ctx context.Context, credentialID string, t time.Time) error {
	if m.advanceSyncWatermarkFunc != nil {
		return m.advanceSyncWatermarkFunc(ctx, credentialID, t)
	}
	return nil
}

func (m *mockCredentialStore) AdvanceClaimSyncWatermark(ctx context.Context, credentialID string, t time.Time) error {
	if m.advanceClaimSyncWatermarkFunc != nil {
		return m.advanceClaimSyncWatermarkFunc(ctx, credentialID, t)
	}
	return nil
}

func (m *mockCredentialStore) SetRevoked(ctx context.Context, credentialID string) error {
	if m.setRevokedFunc != nil {
		return m.setRevokedFunc(ctx, credentialID)
	}
	return nil
}

type mockShipmentStore struct {
	upsertShipmentFunc    func(ctx context.Context, s models.Shipment) (string, error)
	upsertItemFunc        func(ctx context.Context, shipmentRowID, sku, fnsku string, shipped, received int) error
	upsertDiscrepancyFunc func(ctx context.Context, d models.Discrepancy) error
}

func (m *mockShipmentStore) UpsertShipment(ctx context.Context, s models.Shipment) (string, error) {
	if m.upsertShipmentFunc != nil {
		return m.upsertShipmentFunc(ctx, s)
	}
	return "row-" + s.ShipmentID, nil
}

func (m *mockShipmentStore) UpsertItem(ctx context.Context, shipmentRowID, sku, fnsku string, shipped, received int) error {
	if m.upsertItemFunc != nil {
		return m.upsertItemFunc(ctx, shipmentRowID, sku, fnsku, shipped, received)
	}
	return nil
}

func (m *mockShipmentStore) UpsertDiscrepancy(ctx context.Context, d models.Discrepancy) error {
	if m.upsertDiscrepancyFunc != nil {
		return m.upsertDiscrepancyFunc(ctx, d)
	}
	return nil
}

type mockClaimStore struct {
	upsertFunc func(ctx context.Context, c models.Claim) error
}

func (m *mockClaimStore) Upsert(ctx context.Context, c models.Claim) error {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, c)
	}
	return nil
}

type mockFulfillmentAPI struct {
	refreshTokenFunc      func(ctx context.Context, refreshToken string) (*fulfillment.TokenResult, error)
	createReportFunc      func(ctx context.Context, accessToken, reportType, marketplaceID string, dataStart time.Time) (string, error)
	listShipmentsFunc     func(ctx context.Context, accessToken, marketplaceID string, updatedAfter time.Time, nextToken string) (*fulfillment.ShipmentPage, error)
	listShipmentItemsFunc func(ctx context.Context, accessToken, shipmentID string) ([]fulfillment.ShipmentItemData, error)
}

func (m *mockFulfillmentAPI) RefreshToken(ctx context.Context, refreshToken string) (*fulfillment.TokenResult, error) {
	if m.refreshTokenFunc != nil {
		return m.refreshTokenFunc(ctx, refreshToken)
	}
	return &fulfillment.TokenResult{AccessToken: "sp-token"}, nil
}

func (m *mockFulfillmentAPI) CreateReport(ctx context.Context, accessToken, reportType, marketplaceID string, dataStart time.Time) (string, error) {
	if m.createReportFunc != nil {
		return m.createReportFunc(ctx, accessToken, reportType, marketplaceID, dataStart)
	}
	return "report-1", nil
}

func (m *mockFulfillmentAPI) ListShipments(ctx context.Context, accessToken, marketplaceID string, updatedAfter time.Time, nextToken string) (*fulfillment.ShipmentPage, error) {
	if m.listShipmentsFunc != nil {
		return m.listShipmentsFunc(ctx, accessToken, marketplaceID, updatedAfter, nextToken)
	}
	return &fulfillment.ShipmentPage{}, nil
}

func (m *mockFulfillmentAPI) ListShipmentItems(ctx context.Context, accessToken, shipmentID string) ([]fulfillment.ShipmentItemData, error) {
	if m.listShipmentItemsFunc != nil {
		return m.listShipmentItemsFunc(ctx, accessToken, shipmentID)
	}
	return nil, nil
}

type mockReportWaiter struct {
	waitFunc func(ctx context.Context, accessToken, reportID string) ([]byte, error)
}

func (m *mockReportWaiter) Wait(ctx context.Context, accessToken, reportID string) ([]byte, error) {
	if m.waitFunc != nil {
		return m.waitFunc(ctx, accessToken, reportID)
	}
	return nil, nil
}
