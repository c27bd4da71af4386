package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/recoupapp/recoup-worker/internal/httpretry"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
)

// maxThrottleRetries bounds in-run retries of Gmail 429s per API call.
const maxThrottleRetries = 3

type Client struct {
	clientID     string
	clientSecret string

	// retryBase seeds the throttle backoff; shrunk in tests.
	retryBase time.Duration
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		retryBase:    1 * time.Second,
	}
}

func (c *Client) Name() string {
	return "gmail"
}

// RefreshToken refreshes the OAuth2 access token against Google's token
// endpoint. A rejected refresh token maps to ErrAuthExpired.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*mailprovider.TokenResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}

	token := &oauth2.Token{RefreshToken: refreshToken}
	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			// invalid_grant and friends: the refresh token is no longer usable
			return nil, fmt.Errorf("%w: %v", mailprovider.ErrAuthExpired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &mailprovider.TokenResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	return result, nil
}

// SearchMessages lists message IDs matching the query. Pagination uses
// Gmail's nextPageToken.
func (c *Client) SearchMessages(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	listCall := svc.Users.Messages.List("me").Q(buildQuery(q))
	if q.PageSize > 0 {
		listCall = listCall.MaxResults(int64(q.PageSize))
	}
	if q.PageToken != "" {
		listCall = listCall.PageToken(q.PageToken)
	}

	var listResp *gmail.ListMessagesResponse
	err = c.withThrottleRetry(ctx, func() error {
		var doErr error
		listResp, doErr = listCall.Context(ctx).Do()
		if doErr != nil {
			return classify("failed to list messages", doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	page := &mailprovider.MessagePage{
		Messages:      make([]mailprovider.MessageStub, 0, len(listResp.Messages)),
		NextPageToken: listResp.NextPageToken,
	}
	for _, msg := range listResp.Messages {
		page.Messages = append(page.Messages, mailprovider.MessageStub{ID: msg.Id})
	}
	return page, nil
}

// GetMessage fetches headers and the attachment manifest. Gmail requires a
// second call per attachment for the bytes; the manifest carries the
// attachment IDs needed for that.
func (c *Client) GetMessage(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = c.withThrottleRetry(ctx, func() error {
		var doErr error
		msg, doErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		if doErr != nil {
			return classify("failed to get message", doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail := &mailprovider.MessageDetail{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}
	if msg.InternalDate > 0 {
		detail.Received = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				detail.Subject = header.Value
			case "From":
				detail.From = header.Value
			}
		}
		collectAttachments(msg.Payload.Parts, &detail.Attachments)
	}

	return detail, nil
}

// DownloadAttachment fetches attachment bytes. Gmail returns base64url data;
// the normalized contract is a raw byte buffer.
func (c *Client) DownloadAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var att *gmail.MessagePartBody
	err = c.withThrottleRetry(ctx, func() error {
		var doErr error
		att, doErr = svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		if doErr != nil {
			return classify("failed to get attachment", doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(att.Data, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

// withThrottleRetry retries op while it fails with ErrRateLimited, backing
// off between attempts. The generated Gmail client owns its transport, so
// throttling is handled here at the call level rather than by wrapping Do.
func (c *Client) withThrottleRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, mailprovider.ErrRateLimited) || attempt == maxThrottleRetries {
			return err
		}
		timer := time.NewTimer(httpretry.Backoff(attempt+1, c.retryBase, 30*time.Second))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// buildQuery translates the neutral query into Gmail search syntax.
func buildQuery(q mailprovider.Query) string {
	parts := []string{"in:inbox -in:spam"}
	if q.HasAttachment {
		parts = append(parts, "has:attachment")
	}
	if !q.After.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%s", q.After.Format("2006/01/02")))
	}
	if q.FromSender != "" {
		parts = append(parts, fmt.Sprintf("from:%s", q.FromSender))
	}
	return strings.Join(parts, " ")
}

// collectAttachments recursively walks message parts for attachment entries.
func collectAttachments(parts []*gmail.MessagePart, out *[]mailprovider.AttachmentInfo) {
	for _, part := range parts {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			*out = append(*out, mailprovider.AttachmentInfo{
				ID:       part.Body.AttachmentId,
				Filename: part.Filename,
				MimeType: part.MimeType,
				Size:     part.Body.Size,
			})
		}
		if len(part.Parts) > 0 {
			collectAttachments(part.Parts, out)
		}
	}
}

// classify maps Gmail API errors onto the adapter error taxonomy.
func classify(msg string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return fmt.Errorf("%w: %s: %v", mailprovider.ErrAuthExpired, msg, err)
		case 429:
			return fmt.Errorf("%w: %s: %v", mailprovider.ErrRateLimited, msg, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
