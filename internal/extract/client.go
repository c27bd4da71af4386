// Package extract sends invoice text to a structured-extraction service and
// normalizes the response. The service is treated as unreliable: it may omit
// fields, return prose around the JSON, or be unavailable, so nothing here is
// trusted without post-processing.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const APIURL = "https://openrouter.ai/api/v1/chat/completions"

// ParserConfig is passed in explicitly rather than held as process-wide
// state, so concurrent extraction calls cannot race on shared configuration.
type ParserConfig struct {
	Model         string // empty = account default
	MaxTextLength int    // document text is truncated to this many bytes
}

// DefaultParserConfig returns the configuration used when the caller has no
// overrides.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{MaxTextLength: 16000}
}

type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		apiURL: APIURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // LLM calls are slow
		},
	}
}

// SetAPIURL overrides the completions endpoint (tests).
func (c *Client) SetAPIURL(u string) {
	c.apiURL = u
}

// LineItem is one extracted invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// InvoiceData is the strict extraction schema.
type InvoiceData struct {
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date"` // YYYY-MM-DD, may be empty
	Vendor        string     `json:"vendor"`
	LineItems     []LineItem `json:"line_items"`
}

// ExtractInvoice sends document text to the extraction service and returns
// the normalized fields.
func (c *Client) ExtractInvoice(ctx context.Context, text string, cfg ParserConfig) (*InvoiceData, error) {
	if cfg.MaxTextLength > 0 && len(text) > cfg.MaxTextLength {
		text = text[:cfg.MaxTextLength]
	}

	reqBody := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": buildPrompt(text),
			},
		},
	}
	if cfg.Model != "" {
		reqBody["model"] = cfg.Model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from extraction service")
	}

	cleaned := cleanJSONResponse(apiResp.Choices[0].Message.Content)

	var data InvoiceData
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	normalize(&data)
	return &data, nil
}

// normalize trims fields and drops an invoice_date that is not a valid
// YYYY-MM-DD value; a bad date is treated as missing, not fatal.
func normalize(data *InvoiceData) {
	data.InvoiceNumber = strings.TrimSpace(data.InvoiceNumber)
	data.Vendor = strings.TrimSpace(data.Vendor)
	data.InvoiceDate = strings.TrimSpace(data.InvoiceDate)
	if data.InvoiceDate != "" {
		if _, err := time.Parse("2006-01-02", data.InvoiceDate); err != nil {
			data.InvoiceDate = ""
		}
	}
}

// cleanJSONResponse removes markdown code blocks and surrounding prose from
// the model response.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let the JSON parser fail
		return content
	}
	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// buildPrompt builds the strict-schema prompt for invoice extraction.
func buildPrompt(text string) string {
	return fmt.Sprintf(`You are an AI that extracts structured invoice data from supplier invoice documents.

Analyze the given document text and return a STRICT JSON object.

### OUTPUT FORMAT (STRICT JSON ONLY)
{
  "invoice_number": "",
  "invoice_date": "",
  "vendor": "",
  "line_items": []
}

### FIELD DEFINITIONS

invoice_number
- The invoice's own identifier (e.g., "INV-10234"). Empty string if absent.

invoice_date
- ISO format YYYY-MM-DD.
- MUST come from a human-visible label such as "Invoice Date", "Date of Invoice", or "Dated".
- NEVER use "Due Date", "Payment Due", "Ship Date", or "Delivery Date".
- Empty string if no labeled invoice date exists.

vendor
- The business issuing the invoice, as printed on the document.

line_items
- Array of objects: {"description": "", "quantity": 0, "unit_price": 0, "total": 0}
- One entry per billed line. Numeric values only, no currency symbols or commas.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- Never invent values; use empty string / empty array when information is absent.

### Now extract the invoice JSON from this document:

%s`, text)
}
