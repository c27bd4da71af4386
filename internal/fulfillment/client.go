// Package fulfillment talks to the fulfillment platform: token refresh,
// asynchronous report generation, and paginated shipment listing.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/recoupapp/recoup-worker/internal/httpretry"
)

var (
	// ErrAuthExpired means the refresh token was rejected; the credential
	// must be marked revoked and the user has to re-authorize.
	ErrAuthExpired = errors.New("fulfillment platform rejected credentials")

	// ErrRateLimited means the platform is throttling this client.
	ErrRateLimited = errors.New("fulfillment platform rate limited")
)

const DefaultTokenURL = "https://api.amazon.com/auth/o2/token"

type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   httpretry.Doer
}

func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     DefaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		// The platform throttles per-seller; 429s are retried in-run so a
		// throttled page does not fail the whole sync window.
		httpClient: httpretry.New(&http.Client{Timeout: 60 * time.Second}, 3),
	}
}

// SetTokenURL overrides the token endpoint (tests).
func (c *Client) SetTokenURL(u string) {
	c.tokenURL = u
}

// SetHTTPClient overrides the transport (tests).
func (c *Client) SetHTTPClient(d httpretry.Doer) {
	c.httpClient = d
}

// TokenResult is the outcome of a refresh-token exchange.
type TokenResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// RefreshToken exchanges the long-lived refresh token for an access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuthExpired, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &TokenResult{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// CreateReport requests report generation for a data window starting at
// dataStart. Returns the report ID to poll.
func (c *Client) CreateReport(ctx context.Context, accessToken, reportType, marketplaceID string, dataStart time.Time) (string, error) {
	reqBody := map[string]interface{}{
		"reportType":     reportType,
		"marketplaceIds": []string{marketplaceID},
		"dataStartTime":  dataStart.UTC().Format(time.RFC3339),
	}

	var createResp struct {
		ReportID string `json:"reportId"`
	}
	if err := c.doJSON(ctx, accessToken, "POST", "/reports/2021-06-30/reports", reqBody, &createResp); err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	if createResp.ReportID == "" {
		return "", fmt.Errorf("platform returned empty report id")
	}
	return createResp.ReportID, nil
}

// Report is the polled state of a report request.
type Report struct {
	ReportID         string `json:"reportId"`
	ProcessingStatus string `json:"processingStatus"`
	DocumentID       string `json:"reportDocumentId"`
}

// GetReport polls report status.
func (c *Client) GetReport(ctx context.Context, accessToken, reportID string) (*Report, error) {
	var report Report
	path := "/reports/2021-06-30/reports/" + url.PathEscape(reportID)
	if err := c.doJSON(ctx, accessToken, "GET", path, nil, &report); err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

// DownloadDocument resolves the document handle and downloads the payload,
// transparently decompressing gzip.
func (c *Client) DownloadDocument(ctx context.Context, accessToken, documentID string) ([]byte, error) {
	var doc struct {
		URL                  string `json:"url"`
		CompressionAlgorithm string `json:"compressionAlgorithm"`
	}
	path := "/reports/2021-06-30/documents/" + url.PathEscape(documentID)
	if err := c.doJSON(ctx, accessToken, "GET", path, nil, &doc); err != nil {
		return nil, fmt.Errorf("failed to get report document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", doc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document download error (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	if strings.EqualFold(doc.CompressionAlgorithm, "GZIP") {
		return Gunzip(data)
	}
	return data, nil
}

// ShipmentData is one shipment returned by the listing endpoint.
type ShipmentData struct {
	ShipmentID          string `json:"ShipmentId"`
	ShipmentName        string `json:"ShipmentName"`
	DestinationCenterID string `json:"DestinationFulfillmentCenterId"`
	ShipmentStatus      string `json:"ShipmentStatus"`
	CreatedDate         string `json:"CreatedDate"`
	LastUpdatedDate     string `json:"LastUpdatedDate"`
}

// ShipmentPage is one page of the shipment listing with a NextToken cursor.
type ShipmentPage struct {
	Shipments []ShipmentData
	NextToken string
}

// ListShipments lists shipments updated after the given time, following the
// platform's NextToken cursor.
func (c *Client) ListShipments(ctx context.Context, accessToken, marketplaceID string, updatedAfter time.Time, nextToken string) (*ShipmentPage, error) {
	params := url.Values{}
	params.Set("MarketplaceId", marketplaceID)
	if nextToken != "" {
		params.Set("NextToken", nextToken)
	} else {
		params.Set("LastUpdatedAfter", updatedAfter.UTC().Format(time.RFC3339))
		params.Set("QueryType", "DATE_RANGE")
	}

	var listResp struct {
		Payload struct {
			ShipmentData []ShipmentData `json:"ShipmentData"`
			NextToken    string         `json:"NextToken"`
		} `json:"payload"`
	}
	path := "/fba/inbound/v0/shipments?" + params.Encode()
	if err := c.doJSON(ctx, accessToken, "GET", path, nil, &listResp); err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}

	return &ShipmentPage{
		Shipments: listResp.Payload.ShipmentData,
		NextToken: listResp.Payload.NextToken,
	}, nil
}

// ShipmentItemData is one SKU line within a shipment.
type ShipmentItemData struct {
	SellerSKU        string `json:"SellerSKU"`
	FulfillmentSKU   string `json:"FulfillmentNetworkSKU"`
	QuantityShipped  int    `json:"QuantityShipped"`
	QuantityReceived int    `json:"QuantityReceived"`
}

// ListShipmentItems fetches the item lines of one shipment.
func (c *Client) ListShipmentItems(ctx context.Context, accessToken, shipmentID string) ([]ShipmentItemData, error) {
	var itemsResp struct {
		Payload struct {
			ItemData []ShipmentItemData `json:"ItemData"`
		} `json:"payload"`
	}
	path := "/fba/inbound/v0/shipments/" + url.PathEscape(shipmentID) + "/items"
	if err := c.doJSON(ctx, accessToken, "GET", path, nil, &itemsResp); err != nil {
		return nil, fmt.Errorf("failed to list shipment items: %w", err)
	}
	return itemsResp.Payload.ItemData, nil
}

func (c *Client) doJSON(ctx context.Context, accessToken, method, path string, reqBody interface{}, out interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-amz-access-token", accessToken)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: API returned %d", ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: API returned 429", ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
