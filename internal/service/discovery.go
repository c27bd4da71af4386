package service

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
	"github.com/recoupapp/recoup-worker/internal/models"
)

// invoiceKeywords is matched against subject, body preview, and attachment
// filenames. A message matching any keyword is a discovery candidate.
var invoiceKeywords = []string{
	"invoice",
	"bill",
	"receipt",
	"inv",
	"amount due",
	"balance due",
}

// excludedSenderFragments filters out platform notification addresses that
// send attachment-bearing mail but are never suppliers.
var excludedSenderFragments = []string{
	"@amazon.",
	"no-reply",
	"noreply",
	"do-not-reply",
	"donotreply",
	"notifications@",
	"shipment-tracking@",
}

// SupplierStore interface for dependency injection
type SupplierStore interface {
	InsertIgnore(ctx context.Context, supplier models.AllowedSupplier) (bool, error)
}

// Discoverer scans a mailbox for likely supplier senders and records them as
// suggested suppliers. It is read-only with respect to mail: messages are
// never marked read or moved.
type Discoverer struct {
	suppliers SupplierStore
	PageSize  int
	MaxPages  int
}

func NewDiscoverer(suppliers SupplierStore) *Discoverer {
	return &Discoverer{
		suppliers: suppliers,
		PageSize:  50,
		MaxPages:  20,
	}
}

// DiscoveryResult summarizes one discovery pass over one mailbox.
type DiscoveryResult struct {
	MessagesScanned int
	Suggested       int
}

// Run searches the mailbox for attachment-bearing messages after the window
// start, keyword-matches them, and inserts one suggested supplier per distinct
// sender that also attached at least one PDF. Existing (user, email) rows are
// left untouched so the user's own edits survive repeated runs.
func (d *Discoverer) Run(ctx context.Context, mailbox *models.Mailbox, provider mailprovider.Provider, accessToken string, after time.Time) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}
	ownAddress := strings.ToLower(mailbox.EmailAddress)
	seen := make(map[string]bool)

	pageToken := ""
	for page := 0; page < d.MaxPages; page++ {
		msgPage, err := provider.SearchMessages(ctx, accessToken, mailprovider.Query{
			HasAttachment: true,
			After:         after,
			PageSize:      d.PageSize,
			PageToken:     pageToken,
		})
		if err != nil {
			return result, fmt.Errorf("failed to search messages: %w", err)
		}

		for _, stub := range msgPage.Messages {
			detail, err := provider.GetMessage(ctx, accessToken, stub.ID)
			if err != nil {
				log.Printf("Discovery: failed to get message %s in mailbox %s: %v", stub.ID, mailbox.ID, err)
				continue
			}
			result.MessagesScanned++

			sender := mailprovider.SenderAddress(detail.From)
			if sender == "" || sender == ownAddress || isExcludedSender(sender) || seen[sender] {
				continue
			}
			if !matchesInvoiceKeywords(detail) {
				continue
			}
			if !hasPDFAttachment(detail.Attachments) {
				continue
			}
			seen[sender] = true

			now := time.Now()
			inserted, err := d.suppliers.InsertIgnore(ctx, models.AllowedSupplier{
				ID:              uuid.New().String(),
				UserID:          mailbox.UserID,
				Email:           sender,
				Label:           senderLabel(detail.From, sender),
				SourceMailboxID: mailbox.ID,
				SourceProvider:  provider.Name(),
				Status:          models.SupplierStatusSuggested,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			if err != nil {
				return result, fmt.Errorf("failed to insert supplier: %w", err)
			}
			if inserted {
				result.Suggested++
			}
		}

		pageToken = msgPage.NextPageToken
		if pageToken == "" {
			break
		}
	}

	log.Printf("Discovery for mailbox %s: scanned=%d suggested=%d", mailbox.ID, result.MessagesScanned, result.Suggested)
	return result, nil
}

func isExcludedSender(sender string) bool {
	for _, fragment := range excludedSenderFragments {
		if strings.Contains(sender, fragment) {
			return true
		}
	}
	return false
}

// matchesInvoiceKeywords checks subject, body preview, and attachment
// filenames against the invoice keyword set.
func matchesInvoiceKeywords(detail *mailprovider.MessageDetail) bool {
	haystack := strings.ToLower(detail.Subject + " " + detail.Snippet)
	for _, a := range detail.Attachments {
		haystack += " " + strings.ToLower(a.Filename)
	}
	for _, keyword := range invoiceKeywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

func hasPDFAttachment(attachments []mailprovider.AttachmentInfo) bool {
	for _, a := range attachments {
		if mailprovider.IsPDF(a) {
			return true
		}
	}
	return false
}

// senderLabel prefers the display name from the From header, falling back to
// the bare address.
func senderLabel(fromHeader, sender string) string {
	if addr, err := mail.ParseAddress(fromHeader); err == nil && addr.Name != "" {
		return addr.Name
	}
	return sender
}
