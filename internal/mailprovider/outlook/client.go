package outlook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/recoupapp/recoup-worker/internal/httpretry"
	"github.com/recoupapp/recoup-worker/internal/mailprovider"
)

const (
	GraphBaseURL = "https://graph.microsoft.com/v1.0"
	TokenURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// Client talks to Microsoft Graph over plain REST. Unlike Gmail, Outlook can
// return attachment metadata inline via $expand, and its pagination is the
// @odata.nextLink URL rather than an opaque token; both differences are
// normalized here.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   httpretry.Doer
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      GraphBaseURL,
		// Graph throttles per-mailbox; 429s retry in-run with backoff
		// instead of failing the pass.
		httpClient: httpretry.New(&http.Client{Timeout: 60 * time.Second}, 3),
	}
}

func (c *Client) Name() string {
	return "outlook"
}

// SetBaseURL overrides the Graph endpoint (tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// SetHTTPClient overrides the transport (tests).
func (c *Client) SetHTTPClient(d httpretry.Doer) {
	c.httpClient = d
}

// RefreshToken exchanges the refresh token at the Microsoft identity
// platform. A rejected token maps to ErrAuthExpired.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*mailprovider.TokenResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: TokenURL,
		},
		Scopes: []string{"offline_access", "https://graph.microsoft.com/Mail.Read"},
	}

	token := &oauth2.Token{RefreshToken: refreshToken}
	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", mailprovider.ErrAuthExpired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &mailprovider.TokenResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

type graphMessage struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	From        struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime time.Time         `json:"receivedDateTime"`
	Attachments      []graphAttachment `json:"attachments"`
}

type graphAttachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

type graphListResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// SearchMessages lists message stubs. The continuation token is the
// @odata.nextLink URL Graph hands back.
func (c *Client) SearchMessages(ctx context.Context, accessToken string, q mailprovider.Query) (*mailprovider.MessagePage, error) {
	requestURL := q.PageToken
	if requestURL == "" {
		filters := []string{}
		if q.HasAttachment {
			filters = append(filters, "hasAttachments eq true")
		}
		if !q.After.IsZero() {
			filters = append(filters, fmt.Sprintf("receivedDateTime ge %s", q.After.UTC().Format("2006-01-02T15:04:05Z")))
		}
		if q.FromSender != "" {
			filters = append(filters, fmt.Sprintf("from/emailAddress/address eq '%s'", q.FromSender))
		}

		params := url.Values{}
		if len(filters) > 0 {
			params.Set("$filter", strings.Join(filters, " and "))
		}
		params.Set("$select", "id")
		if q.PageSize > 0 {
			params.Set("$top", fmt.Sprintf("%d", q.PageSize))
		}
		requestURL = c.baseURL + "/me/messages?" + params.Encode()
	}

	var listResp graphListResponse
	if err := c.getJSON(ctx, accessToken, requestURL, &listResp); err != nil {
		return nil, err
	}

	page := &mailprovider.MessagePage{
		Messages:      make([]mailprovider.MessageStub, 0, len(listResp.Value)),
		NextPageToken: listResp.NextLink,
	}
	for _, msg := range listResp.Value {
		page.Messages = append(page.Messages, mailprovider.MessageStub{ID: msg.ID})
	}
	return page, nil
}

// GetMessage fetches headers with the attachment manifest expanded inline, so
// no second round trip is needed.
func (c *Client) GetMessage(ctx context.Context, accessToken, messageID string) (*mailprovider.MessageDetail, error) {
	params := url.Values{}
	params.Set("$select", "id,subject,from,bodyPreview,receivedDateTime")
	params.Set("$expand", "attachments($select=id,name,contentType,size)")
	requestURL := fmt.Sprintf("%s/me/messages/%s?%s", c.baseURL, url.PathEscape(messageID), params.Encode())

	var msg graphMessage
	if err := c.getJSON(ctx, accessToken, requestURL, &msg); err != nil {
		return nil, err
	}

	from := msg.From.EmailAddress.Address
	if msg.From.EmailAddress.Name != "" {
		from = fmt.Sprintf("%s <%s>", msg.From.EmailAddress.Name, msg.From.EmailAddress.Address)
	}

	detail := &mailprovider.MessageDetail{
		ID:       msg.ID,
		Subject:  msg.Subject,
		From:     from,
		Snippet:  msg.BodyPreview,
		Received: msg.ReceivedDateTime,
	}
	for _, att := range msg.Attachments {
		detail.Attachments = append(detail.Attachments, mailprovider.AttachmentInfo{
			ID:       att.ID,
			Filename: att.Name,
			MimeType: att.ContentType,
			Size:     att.Size,
		})
	}
	return detail, nil
}

// DownloadAttachment fetches attachment bytes. Outlook returns standard
// base64 in contentBytes.
func (c *Client) DownloadAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	requestURL := fmt.Sprintf("%s/me/messages/%s/attachments/%s",
		c.baseURL, url.PathEscape(messageID), url.PathEscape(attachmentID))

	var att graphAttachment
	if err := c.getJSON(ctx, accessToken, requestURL, &att); err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, requestURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: Graph returned 401", mailprovider.ErrAuthExpired)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: Graph returned 429", mailprovider.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("Graph API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse Graph response: %w", err)
	}
	return nil
}
