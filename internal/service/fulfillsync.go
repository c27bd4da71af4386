package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/recoupapp/recoup-worker/internal/fulfillment"
	"github.com/recoupapp/recoup-worker/internal/models"
)

const (
	// ShipmentBatchSize bounds concurrent shipment item fetches.
	ShipmentBatchSize = 3

	// watermarkOverlap absorbs clock and processing skew between systems.
	watermarkOverlap = 24 * time.Hour

	shipmentLookbackDays = 90
	claimLookbackDays    = 365

	reimbursementReportType = "GET_FBA_REIMBURSEMENTS_DATA"

	shipmentTypeInbound = "inbound"
)

// CredentialStore interface for dependency injection
type CredentialStore interface {
	GetByID(ctx context.Context, credentialID string) (*models.FulfillmentCredential, error)
	ListActive(ctx context.Context, userID string) ([]models.FulfillmentCredential, error)
	AdvanceSyncWatermark(ctx context.Context, credentialID string, t time.Time) error
	AdvanceClaimSyncWatermark(ctx context.Context, credentialID string, t time.Time) error
	SetRevoked(ctx context.Context, credentialID string) error
}

// ShipmentStore interface for dependency injection
type ShipmentStore interface {
	UpsertShipment(ctx context.Context, s models.Shipment) (string, error)
	UpsertItem(ctx context.Context, shipmentRowID, sku, fnsku string, shipped, received int) error
	UpsertDiscrepancy(ctx context.Context, d models.Discrepancy) error
}

// ClaimStore interface for dependency injection
type ClaimStore interface {
	Upsert(ctx context.Context, c models.Claim) error
}

// FulfillmentAPI interface for dependency injection
type FulfillmentAPI interface {
	RefreshToken(ctx context.Context, refreshToken string) (*fulfillment.TokenResult, error)
	CreateReport(ctx context.Context, accessToken, reportType, marketplaceID string, dataStart time.Time) (string, error)
	ListShipments(ctx context.Context, accessToken, marketplaceID string, updatedAfter time.Time, nextToken string) (*fulfillment.ShipmentPage, error)
	ListShipmentItems(ctx context.Context, accessToken, shipmentID string) ([]fulfillment.ShipmentItemData, error)
}

// ReportWaiter interface for dependency injection
type ReportWaiter interface {
	Wait(ctx context.Context, accessToken, reportID string) ([]byte, error)
}

// FulfillmentSummary aggregates one fulfillment sync run.
type FulfillmentSummary struct {
	Credentials        int
	ShipmentsSynced    int
	ItemsUpserted      int
	DiscrepanciesFound int
	ClaimsUpserted     int
	Errors             []string
}

// FulfillmentSyncer drives shipment and claim sync for a user's fulfillment
// credentials. The two passes keep independent watermarks; each advances its
// own only after a clean pass, so a failed window is re-scanned next run.
type FulfillmentSyncer struct {
	credentials CredentialStore
	shipments   ShipmentStore
	claims      ClaimStore
	api         FulfillmentAPI
	poller      ReportWaiter
	vault       TokenVault
}

func NewFulfillmentSyncer(
	credentials CredentialStore,
	shipments ShipmentStore,
	claims ClaimStore,
	api FulfillmentAPI,
	poller ReportWaiter,
	vault TokenVault,
) *FulfillmentSyncer {
	return &FulfillmentSyncer{
		credentials: credentials,
		shipments:   shipments,
		claims:      claims,
		api:         api,
		poller:      poller,
		vault:       vault,
	}
}

// SyncUser syncs one credential (targetCredentialID set) or every active
// credential of the user.
func (s *FulfillmentSyncer) SyncUser(ctx context.Context, userID, targetCredentialID string) (*FulfillmentSummary, error) {
	var credentials []models.FulfillmentCredential
	if targetCredentialID != "" {
		cred, err := s.credentials.GetByID(ctx, targetCredentialID)
		if err != nil {
			return nil, fmt.Errorf("failed to get credential: %w", err)
		}
		if cred.UserID != userID {
			return nil, fmt.Errorf("credential %s does not belong to user %s", targetCredentialID, userID)
		}
		// Targeting must not bypass the ListActive filter.
		if cred.Status != models.CredentialStatusActive {
			return nil, fmt.Errorf("credential %s is not active (status %s)", targetCredentialID, cred.Status)
		}
		credentials = []models.FulfillmentCredential{*cred}
	} else {
		var err error
		credentials, err = s.credentials.ListActive(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list credentials: %w", err)
		}
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("no active fulfillment credentials for user %s", userID)
	}

	summary := &FulfillmentSummary{}
	for i := range credentials {
		cred := credentials[i]

		refreshToken, err := s.vault.DecryptString(cred.EncryptedRefreshToken)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("credential %s: failed to decrypt token: %v", cred.ID, err))
			continue
		}
		token, err := s.api.RefreshToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, fulfillment.ErrAuthExpired) {
				if markErr := s.credentials.SetRevoked(ctx, cred.ID); markErr != nil {
					log.Printf("Failed to mark credential %s revoked: %v", cred.ID, markErr)
				}
				log.Printf("Fulfillment credential %s rejected, marked revoked", cred.ID)
			}
			summary.Errors = append(summary.Errors, fmt.Sprintf("credential %s: %v", cred.ID, err))
			continue
		}
		summary.Credentials++

		if err := s.syncShipments(ctx, &cred, token.AccessToken, summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("credential %s shipments: %v", cred.ID, err))
		}
		if err := s.syncClaims(ctx, &cred, token.AccessToken, summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("credential %s claims: %v", cred.ID, err))
		}
	}

	log.Printf("Fulfillment sync for user %s: credentials=%d shipments=%d items=%d discrepancies=%d claims=%d errors=%d",
		userID, summary.Credentials, summary.ShipmentsSynced, summary.ItemsUpserted,
		summary.DiscrepanciesFound, summary.ClaimsUpserted, len(summary.Errors))
	return summary, nil
}

// syncShipments lists shipments updated since the window start, upserts them,
// and fetches their items in fixed concurrent batches. The watermark advances
// only when the whole pass ran without per-shipment failures; a failed
// shipment would otherwise fall out of every future window.
func (s *FulfillmentSyncer) syncShipments(ctx context.Context, cred *models.FulfillmentCredential, accessToken string, summary *FulfillmentSummary) error {
	startedAt := time.Now()
	windowStart := syncWindowStart(cred.LastSyncAt, shipmentLookbackDays)

	var shipments []fulfillment.ShipmentData
	nextToken := ""
	for {
		page, err := s.api.ListShipments(ctx, accessToken, cred.MarketplaceID, windowStart, nextToken)
		if err != nil {
			return fmt.Errorf("failed to list shipments: %w", err)
		}
		shipments = append(shipments, page.Shipments...)
		nextToken = page.NextToken
		if nextToken == "" {
			break
		}
	}

	failures := 0
	for batchStart := 0; batchStart < len(shipments); batchStart += ShipmentBatchSize {
		batchEnd := batchStart + ShipmentBatchSize
		if batchEnd > len(shipments) {
			batchEnd = len(shipments)
		}
		batch := shipments[batchStart:batchEnd]

		type fetched struct {
			shipment fulfillment.ShipmentData
			items    []fulfillment.ShipmentItemData
			err      error
		}
		results := make([]fetched, len(batch))
		var wg sync.WaitGroup
		for i, sh := range batch {
			wg.Add(1)
			go func(i int, sh fulfillment.ShipmentData) {
				defer wg.Done()
				items, err := s.api.ListShipmentItems(ctx, accessToken, sh.ShipmentID)
				results[i] = fetched{shipment: sh, items: items, err: err}
			}(i, sh)
		}
		wg.Wait()

		for _, res := range results {
			if res.err != nil {
				failures++
				summary.Errors = append(summary.Errors, fmt.Sprintf("shipment %s: %v", res.shipment.ShipmentID, res.err))
				continue
			}
			if err := s.persistShipment(ctx, cred, res.shipment, res.items, summary); err != nil {
				failures++
				summary.Errors = append(summary.Errors, fmt.Sprintf("shipment %s: %v", res.shipment.ShipmentID, err))
			}
		}
	}

	if failures > 0 {
		log.Printf("Shipment sync for credential %s left %d shipments unsynced, watermark unchanged", cred.ID, failures)
		return nil
	}
	if err := s.credentials.AdvanceSyncWatermark(ctx, cred.ID, startedAt); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

func (s *FulfillmentSyncer) persistShipment(ctx context.Context, cred *models.FulfillmentCredential, sh fulfillment.ShipmentData, items []fulfillment.ShipmentItemData, summary *FulfillmentSummary) error {
	rowID, err := s.shipments.UpsertShipment(ctx, models.Shipment{
		UserID:            cred.UserID,
		ShipmentID:        sh.ShipmentID,
		ShipmentType:      shipmentTypeInbound,
		Name:              sh.ShipmentName,
		DestinationCenter: sh.DestinationCenterID,
		Status:            sh.ShipmentStatus,
		CreatedDate:       parseAPITime(sh.CreatedDate),
		LastUpdatedDate:   parseAPITime(sh.LastUpdatedDate),
	})
	if err != nil {
		return err
	}
	summary.ShipmentsSynced++

	for _, item := range items {
		if err := s.shipments.UpsertItem(ctx, rowID, item.SellerSKU, item.FulfillmentSKU, item.QuantityShipped, item.QuantityReceived); err != nil {
			return err
		}
		summary.ItemsUpserted++

		d := DeriveDiscrepancy(rowID, item.SellerSKU, item.QuantityShipped, item.QuantityReceived)
		if d == nil {
			continue
		}
		if err := s.shipments.UpsertDiscrepancy(ctx, *d); err != nil {
			return err
		}
		summary.DiscrepanciesFound++
	}
	return nil
}

// DeriveDiscrepancy computes the received-minus-shipped difference and
// classifies it. Matching quantities yield nil.
func DeriveDiscrepancy(shipmentRowID, sku string, shipped, received int) *models.Discrepancy {
	difference := received - shipped
	if difference == 0 {
		return nil
	}
	dtype := models.DiscrepancyTypeOverage
	if difference < 0 {
		dtype = models.DiscrepancyTypeShortage
		difference = -difference
	}
	return &models.Discrepancy{
		ShipmentRowID:    shipmentRowID,
		SKU:              sku,
		ExpectedQuantity: shipped,
		ActualQuantity:   received,
		Difference:       difference,
		Type:             dtype,
		Status:           models.DiscrepancyStatusOpen,
	}
}

// syncClaims runs the report protocol: request, poll to a terminal state,
// download, parse, upsert. Timeouts leave the watermark untouched so the same
// window is retried next run.
func (s *FulfillmentSyncer) syncClaims(ctx context.Context, cred *models.FulfillmentCredential, accessToken string, summary *FulfillmentSummary) error {
	startedAt := time.Now()
	windowStart := syncWindowStart(cred.LastClaimSyncAt, claimLookbackDays)

	reportID, err := s.api.CreateReport(ctx, accessToken, reimbursementReportType, cred.MarketplaceID, windowStart)
	if err != nil {
		return fmt.Errorf("failed to request report: %w", err)
	}

	doc, err := s.poller.Wait(ctx, accessToken, reportID)
	if err != nil {
		return err
	}

	records, err := fulfillment.ParseClaimsReport(doc)
	if err != nil {
		return fmt.Errorf("failed to parse claims report: %w", err)
	}

	for _, rec := range records {
		err := s.claims.Upsert(ctx, models.Claim{
			UserID:    cred.UserID,
			ClaimID:   rec.ReimbursementID,
			CaseID:    rec.CaseID,
			ASIN:      rec.ASIN,
			SKU:       rec.SKU,
			ItemName:  rec.ItemName,
			Amount:    rec.Amount,
			Status:    rec.Status,
			ClaimDate: rec.ApprovalDate,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert claim %s: %w", rec.ReimbursementID, err)
		}
		summary.ClaimsUpserted++
	}

	if err := s.credentials.AdvanceClaimSyncWatermark(ctx, cred.ID, startedAt); err != nil {
		return fmt.Errorf("failed to advance claim watermark: %w", err)
	}
	return nil
}

// syncWindowStart picks the later of (watermark minus overlap) and the
// default lookback floor, so an old watermark never widens the scan past the
// lookback and a recent one still overlaps the last window.
func syncWindowStart(watermark *time.Time, lookbackDays int) time.Time {
	floor := time.Now().AddDate(0, 0, -lookbackDays)
	if watermark == nil {
		return floor
	}
	start := watermark.Add(-watermarkOverlap)
	if start.Before(floor) {
		return floor
	}
	return start
}

func parseAPITime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
