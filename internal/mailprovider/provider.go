// Package mailprovider defines the provider-neutral contract for reading a
// connected mailbox. Gmail and Outlook differences (pagination tokens,
// attachment encodings, detail fetching) are normalized behind this interface;
// nothing outside the adapter layer branches on provider identity.
package mailprovider

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrAuthExpired means the provider rejected the refresh or access token.
	// The caller must mark the owning mailbox needs_reauth and skip it without
	// affecting other mailboxes.
	ErrAuthExpired = errors.New("mail provider rejected credentials")

	// ErrRateLimited means the provider is throttling this client.
	ErrRateLimited = errors.New("mail provider rate limited")
)

// TokenResult is the outcome of a refresh-token exchange.
type TokenResult struct {
	AccessToken  string
	RefreshToken string // may be rotated by the provider
	ExpiresAt    time.Time
}

// Query bounds a message search. Providers translate it to their native
// search syntax.
type Query struct {
	HasAttachment bool
	After         time.Time // zero = unbounded
	FromSender    string    // restrict to one sender address, empty = any
	PageSize      int
	PageToken     string // provider-native continuation token
}

// MessageStub is a search hit; details require GetMessage.
type MessageStub struct {
	ID string
}

// MessagePage is one page of search results. An empty NextPageToken means the
// listing is exhausted.
type MessagePage struct {
	Messages      []MessageStub
	NextPageToken string
}

// AttachmentInfo is one entry in a message's attachment manifest.
type AttachmentInfo struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// MessageDetail carries normalized headers plus the attachment manifest.
type MessageDetail struct {
	ID          string
	Subject     string
	From        string // raw From header
	Snippet     string // body preview
	Received    time.Time
	Attachments []AttachmentInfo
}

// Provider is the uniform mailbox capability set: refresh, search, detail,
// download.
type Provider interface {
	Name() string
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error)
	SearchMessages(ctx context.Context, accessToken string, q Query) (*MessagePage, error)
	GetMessage(ctx context.Context, accessToken, messageID string) (*MessageDetail, error)
	DownloadAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error)
}

// SenderAddress extracts the normalized lowercase address from a From header
// like `"Acme Billing" <billing@acme.com>`.
func SenderAddress(fromHeader string) string {
	addr, err := mail.ParseAddress(fromHeader)
	if err == nil {
		return strings.ToLower(addr.Address)
	}

	// Fall back to manual extraction for headers net/mail rejects
	s := strings.TrimSpace(fromHeader)
	if start := strings.LastIndex(s, "<"); start != -1 {
		if end := strings.Index(s[start:], ">"); end != -1 {
			s = s[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// IsPDF reports whether an attachment looks like a PDF by mime type or
// filename extension.
func IsPDF(a AttachmentInfo) bool {
	if strings.EqualFold(a.MimeType, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}
