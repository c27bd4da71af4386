package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/recoupapp/recoup-worker/internal/models"
	"gorm.io/gorm"
)

var ErrMailboxNotFound = errors.New("mailbox not found")

type MailboxRepository struct {
	db *gorm.DB
}

func NewMailboxRepository(db *gorm.DB) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// GetByID retrieves a mailbox by ID
func (r *MailboxRepository) GetByID(ctx context.Context, mailboxID string) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).First(&mailbox, "id = ?", mailboxID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMailboxNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", result.Error)
	}
	return &mailbox, nil
}

// ListSyncable retrieves a user's mailboxes that are enabled and not waiting
// on re-authentication.
func (r *MailboxRepository) ListSyncable(ctx context.Context, userID string) ([]models.Mailbox, error) {
	var mailboxes []models.Mailbox
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND sync_enabled = ? AND needs_reauth = ?", userID, true, false).
		Order("created_at ASC").
		Find(&mailboxes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", result.Error)
	}
	return mailboxes, nil
}

// UpdateTokens stores freshly encrypted tokens and their expiry
func (r *MailboxRepository) UpdateTokens(ctx context.Context, mailboxID, encAccessToken, encRefreshToken string, expiry time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).
		Where("id = ?", mailboxID).
		Updates(map[string]interface{}{
			"encrypted_access_token":  encAccessToken,
			"encrypted_refresh_token": encRefreshToken,
			"token_expiry":            expiry,
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// SetNeedsReauth flags a mailbox whose refresh token was rejected. Sync for
// this mailbox halts until the user re-authenticates.
func (r *MailboxRepository) SetNeedsReauth(ctx context.Context, mailboxID string) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).
		Where("id = ?", mailboxID).
		Updates(map[string]interface{}{
			"needs_reauth": true,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set needs_reauth: %w", result.Error)
	}
	return nil
}

// MarkInitialSyncDone switches a mailbox from the initial lookback window to
// the refresh window.
func (r *MailboxRepository) MarkInitialSyncDone(ctx context.Context, mailboxID string) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).
		Where("id = ?", mailboxID).
		Updates(map[string]interface{}{
			"initial_sync_done": true,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark initial sync done: %w", result.Error)
	}
	return nil
}
