package models

import "time"

// Mail provider identifiers
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Mailbox represents a connected supplier email account.
// Tokens are stored as vault ciphertext (base64), never plaintext.
type Mailbox struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	UserID                string     `gorm:"column:user_id;index"`
	Provider              string     `gorm:"column:provider"`
	EmailAddress          string     `gorm:"column:email_address"`
	EncryptedAccessToken  string     `gorm:"column:encrypted_access_token"`
	EncryptedRefreshToken string     `gorm:"column:encrypted_refresh_token"`
	TokenExpiry           *time.Time `gorm:"column:token_expiry"`
	SyncEnabled           bool       `gorm:"column:sync_enabled"`
	NeedsReauth           bool       `gorm:"column:needs_reauth"`
	InitialSyncDone       bool       `gorm:"column:initial_sync_done"`
	CreatedAt             time.Time  `gorm:"column:created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Mailbox) TableName() string {
	return "mailbox"
}
