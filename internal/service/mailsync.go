package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/models"
)

const (
	InitialSyncDays = 365 // first-ever sync scans roughly a year
	RefreshSyncDays = 30  // later syncs scan the recent window only

	// tokenExpirySlack refreshes tokens slightly before they expire.
	tokenExpirySlack = 5 * time.Minute
)

// MailboxStore interface for dependency injection
type MailboxStore interface {
	GetByID(ctx context.Context, mailboxID string) (*models.Mailbox, error)
	ListSyncable(ctx context.Context, userID string) ([]models.Mailbox, error)
	UpdateTokens(ctx context.Context, mailboxID, encAccessToken, encRefreshToken string, expiry time.Time) error
	SetNeedsReauth(ctx context.Context, mailboxID string) error
	MarkInitialSyncDone(ctx context.Context, mailboxID string) error
}

// TokenVault interface for dependency injection
type TokenVault interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(encoded string) (string, error)
}

// SyncSummary aggregates one mail sync run across a user's mailboxes.
// Per-mailbox failures land in Errors; the run itself only fails when no
// mailbox could be attempted at all.
type SyncSummary struct {
	Mailboxes          int
	SuppliersSuggested int
	MessagesScanned    int
	AttachmentsFound   int
	InvoicesIngested   int
	ValidationRejected int
	Errors             []string
}

// MailSyncOrchestrator drives discovery then ingestion for each of a user's
// syncable mailboxes. Mailboxes sync concurrently and independently: an
// expired credential on one sets its needs_reauth flag without disturbing the
// others.
type MailSyncOrchestrator struct {
	mailboxes MailboxStore
	vault     TokenVault
	providers map[string]mailprovider.Provider
	discovery *Discoverer
	ingestion *Ingestor
	extractor *Extractor // optional pending-retry pass
}

func NewMailSyncOrchestrator(
	mailboxes MailboxStore,
	vault TokenVault,
	providers map[string]mailprovider.Provider,
	discovery *Discoverer,
	ingestion *Ingestor,
	extractor *Extractor,
) *MailSyncOrchestrator {
	return &MailSyncOrchestrator{
		mailboxes: mailboxes,
		vault:     vault,
		providers: providers,
		discovery: discovery,
		ingestion: ingestion,
		extractor: extractor,
	}
}

// SyncUser syncs one mailbox (targetMailboxID set) or every syncable mailbox
// of the user.
func (o *MailSyncOrchestrator) SyncUser(ctx context.Context, userID, targetMailboxID string) (*SyncSummary, error) {
	var mailboxes []models.Mailbox
	if targetMailboxID != "" {
		mb, err := o.mailboxes.GetByID(ctx, targetMailboxID)
		if err != nil {
			return nil, fmt.Errorf("failed to get mailbox: %w", err)
		}
		if mb.UserID != userID {
			return nil, fmt.Errorf("mailbox %s does not belong to user %s", targetMailboxID, userID)
		}
		// Targeting must not bypass the ListSyncable filters.
		if !mb.SyncEnabled {
			return nil, fmt.Errorf("mailbox %s has sync disabled", targetMailboxID)
		}
		if mb.NeedsReauth {
			return nil, fmt.Errorf("mailbox %s needs re-authorization", targetMailboxID)
		}
		mailboxes = []models.Mailbox{*mb}
	} else {
		var err error
		mailboxes, err = o.mailboxes.ListSyncable(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list mailboxes: %w", err)
		}
	}
	if len(mailboxes) == 0 {
		return nil, fmt.Errorf("no syncable mailboxes for user %s", userID)
	}

	summary := &SyncSummary{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range mailboxes {
		mb := mailboxes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.syncMailbox(ctx, &mb, summary, &mu)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("mailbox %s: %v", mb.ID, err))
				return
			}
			summary.Mailboxes++
		}()
	}
	wg.Wait()

	if o.extractor != nil {
		if n, err := o.extractor.ProcessPending(ctx, userID, 20); err != nil {
			log.Printf("Pending extraction retry for user %s failed: %v", userID, err)
		} else if n > 0 {
			log.Printf("Retried extraction for %d pending invoices of user %s", n, userID)
		}
	}

	log.Printf("Mail sync for user %s: mailboxes=%d suggested=%d ingested=%d rejected=%d errors=%d",
		userID, summary.Mailboxes, summary.SuppliersSuggested, summary.InvoicesIngested,
		summary.ValidationRejected, len(summary.Errors))
	return summary, nil
}

func (o *MailSyncOrchestrator) syncMailbox(ctx context.Context, mb *models.Mailbox, summary *SyncSummary, mu *sync.Mutex) error {
	provider, ok := o.providers[mb.Provider]
	if !ok {
		return fmt.Errorf("unsupported provider %q", mb.Provider)
	}

	accessToken, err := o.ensureAccessToken(ctx, mb, provider)
	if err != nil {
		if errors.Is(err, mailprovider.ErrAuthExpired) {
			if markErr := o.mailboxes.SetNeedsReauth(ctx, mb.ID); markErr != nil {
				log.Printf("Failed to flag mailbox %s for reauth: %v", mb.ID, markErr)
			}
			log.Printf("Mailbox %s credentials expired, flagged for reauth", mb.ID)
		}
		return err
	}

	days := RefreshSyncDays
	if !mb.InitialSyncDone {
		days = InitialSyncDays
	}
	after := time.Now().AddDate(0, 0, -days)

	disc, err := o.discovery.Run(ctx, mb, provider, accessToken, after)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	ing, err := o.ingestion.Run(ctx, mb, provider, accessToken, after)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	if !mb.InitialSyncDone {
		if err := o.mailboxes.MarkInitialSyncDone(ctx, mb.ID); err != nil {
			return fmt.Errorf("failed to mark initial sync done: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	summary.SuppliersSuggested += disc.Suggested
	summary.MessagesScanned += disc.MessagesScanned + ing.MessagesScanned
	summary.AttachmentsFound += ing.AttachmentsFound
	summary.InvoicesIngested += ing.Ingested
	summary.ValidationRejected += ing.Rejected
	summary.Errors = append(summary.Errors, ing.Errors...)
	return nil
}

// ensureAccessToken decrypts the stored access token, refreshing it first
// when it is missing or near expiry. Refreshed tokens are re-encrypted and
// persisted; plaintext never touches the database or the logs.
func (o *MailSyncOrchestrator) ensureAccessToken(ctx context.Context, mb *models.Mailbox, provider mailprovider.Provider) (string, error) {
	if mb.EncryptedAccessToken != "" && mb.TokenExpiry != nil && time.Now().Add(tokenExpirySlack).Before(*mb.TokenExpiry) {
		token, err := o.vault.DecryptString(mb.EncryptedAccessToken)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		return token, nil
	}

	if mb.EncryptedRefreshToken == "" {
		return "", mailprovider.ErrAuthExpired
	}
	refreshToken, err := o.vault.DecryptString(mb.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	result, err := provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	encAccess, err := o.vault.EncryptString(result.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh := mb.EncryptedRefreshToken
	if result.RefreshToken != "" && result.RefreshToken != refreshToken {
		encRefresh, err = o.vault.EncryptString(result.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	if err := o.mailboxes.UpdateTokens(ctx, mb.ID, encAccess, encRefresh, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	log.Printf("Token refreshed for mailbox %s, expires at %s", mb.ID, result.ExpiresAt.Format(time.RFC3339))
	return result.AccessToken, nil
}
