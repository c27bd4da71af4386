package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recoupapp/recoup-worker/internal/models"
	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("fulfillment credential not found")

type FulfillmentCredentialRepository struct {
	db *gorm.DB
}

func NewFulfillmentCredentialRepository(db *gorm.DB) *FulfillmentCredentialRepository {
	return &FulfillmentCredentialRepository{db: db}
}

// GetByID retrieves a credential by ID
func (r *FulfillmentCredentialRepository) GetByID(ctx context.Context, credentialID string) (*models.FulfillmentCredential, error) {
	var cred models.FulfillmentCredential
	result := r.db.WithContext(ctx).First(&cred, "id = ?", credentialID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", result.Error)
	}
	return &cred, nil
}

// ListActive retrieves a user's active credentials
func (r *FulfillmentCredentialRepository) ListActive(ctx context.Context, userID string) ([]models.FulfillmentCredential, error) {
	var creds []models.FulfillmentCredential
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.CredentialStatusActive).
		Order("created_at ASC").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", result.Error)
	}
	return creds, nil
}

// AdvanceSyncWatermark sets last_sync_at. Called only after a successful
// shipment pass, even one that changed zero rows.
func (r *FulfillmentCredentialRepository) AdvanceSyncWatermark(ctx context.Context, credentialID string, t time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.FulfillmentCredential{}).
		Where("id = ?", credentialID).
		Updates(map[string]interface{}{
			"last_sync_at": t,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance sync watermark: %w", result.Error)
	}
	return nil
}

// AdvanceClaimSyncWatermark sets last_claim_sync_at after a successful claim
// pass. The two watermarks are independent.
func (r *FulfillmentCredentialRepository) AdvanceClaimSyncWatermark(ctx context.Context, credentialID string, t time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.FulfillmentCredential{}).
		Where("id = ?", credentialID).
		Updates(map[string]interface{}{
			"last_claim_sync_at": t,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance claim sync watermark: %w", result.Error)
	}
	return nil
}

// SetRevoked marks a credential whose refresh token was rejected
func (r *FulfillmentCredentialRepository) SetRevoked(ctx context.Context, credentialID string) error {
	result := r.db.WithContext(ctx).Model(&models.FulfillmentCredential{}).
		Where("id = ?", credentialID).
		Updates(map[string]interface{}{
			"status":     models.CredentialStatusRevoked,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to revoke credential: %w", result.Error)
	}
	return nil
}
