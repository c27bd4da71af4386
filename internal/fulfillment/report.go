package fulfillment

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"
)

// ReportState is a named state of the report-generation protocol.
type ReportState string

const (
	StateRequested  ReportState = "REQUESTED"
	StateInProgress ReportState = "IN_PROGRESS"
	StateDone       ReportState = "DONE"
	StateCancelled  ReportState = "CANCELLED"
	StateFatal      ReportState = "FATAL"
)

var (
	// ErrReportTimeout means the report never reached DONE within the attempt
	// budget. Retryable on the next invocation; no watermark is advanced.
	ErrReportTimeout = errors.New("report polling exceeded attempt budget")

	// ErrReportFatal means report generation permanently failed on the
	// platform side.
	ErrReportFatal = errors.New("report generation failed fatally")

	// ErrReportCancelled means the platform cancelled the report, usually
	// because no data exists for the requested window.
	ErrReportCancelled = errors.New("report was cancelled by the platform")
)

// stateOf maps the platform's processing status strings onto named states.
func stateOf(processingStatus string) ReportState {
	switch strings.ToUpper(processingStatus) {
	case "DONE":
		return StateDone
	case "CANCELLED":
		return StateCancelled
	case "FATAL":
		return StateFatal
	case "IN_PROGRESS":
		return StateInProgress
	default: // IN_QUEUE and anything unknown counts as still queued
		return StateRequested
	}
}

// ReportAPI is the slice of Client the poller needs.
type ReportAPI interface {
	GetReport(ctx context.Context, accessToken, reportID string) (*Report, error)
	DownloadDocument(ctx context.Context, accessToken, documentID string) ([]byte, error)
}

// Poller drives the report state machine:
//
//	REQUESTED -> IN_PROGRESS -> {DONE | CANCELLED | FATAL}
//
// DONE downloads the document; CANCELLED and FATAL surface their own errors;
// exhausting MaxAttempts surfaces ErrReportTimeout. This is the one call that
// deliberately blocks for an extended period (bounded by attempts*interval);
// callers apply their own timeout or cancellation above it.
type Poller struct {
	api         ReportAPI
	Interval    time.Duration
	MaxAttempts int
}

func NewPoller(api ReportAPI) *Poller {
	return &Poller{
		api:         api,
		Interval:    15 * time.Second,
		MaxAttempts: 40,
	}
}

// Wait polls the report until a terminal state and returns the decompressed
// document bytes on DONE.
func (p *Poller) Wait(ctx context.Context, accessToken, reportID string) ([]byte, error) {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		report, err := p.api.GetReport(ctx, accessToken, reportID)
		if err != nil {
			return nil, err
		}

		state := stateOf(report.ProcessingStatus)
		switch state {
		case StateDone:
			return p.api.DownloadDocument(ctx, accessToken, report.DocumentID)
		case StateCancelled:
			return nil, fmt.Errorf("%w (report %s)", ErrReportCancelled, reportID)
		case StateFatal:
			// The most common cause in practice is a misconfigured
			// marketplace identifier on the credential.
			return nil, fmt.Errorf("%w (report %s): check that the credential's marketplace id is valid for this account", ErrReportFatal, reportID)
		case StateRequested, StateInProgress:
			log.Printf("Report %s is %s (attempt %d/%d)", reportID, state, attempt, p.MaxAttempts)
		}

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("%w (report %s after %d attempts)", ErrReportTimeout, reportID, p.MaxAttempts)
}

// Gunzip decompresses gzip data.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip reader: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}
	return out, nil
}

// Row is one report row addressed by header name.
type Row map[string]string

// Get returns the value of a column, empty when the column is absent.
func (r Row) Get(header string) string {
	return r[header]
}

// ParseTable parses a tab-separated report into rows keyed by header name,
// so a platform schema reordering cannot corrupt the field mapping. Rows
// shorter than the header row are skipped.
func ParseTable(data []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < len(header) {
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			row[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ClaimRecord is one parsed reimbursement row.
type ClaimRecord struct {
	ReimbursementID string
	CaseID          string
	ASIN            string
	SKU             string
	ItemName        string
	Amount          float64
	Status          string
	ApprovalDate    *time.Time
}

// ParseClaimsReport maps a reimbursement report document to claim records.
// Rows without a reimbursement id are dropped; they cannot be upserted
// idempotently.
func ParseClaimsReport(data []byte) ([]ClaimRecord, error) {
	rows, err := ParseTable(data)
	if err != nil {
		return nil, err
	}

	claims := make([]ClaimRecord, 0, len(rows))
	for _, row := range rows {
		id := row.Get("reimbursement-id")
		if id == "" {
			continue
		}

		claim := ClaimRecord{
			ReimbursementID: id,
			CaseID:          row.Get("case-id"),
			ASIN:            row.Get("asin"),
			SKU:             row.Get("sku"),
			ItemName:        row.Get("product-name"),
			Status:          row.Get("reason"),
		}

		if amount := row.Get("amount-total"); amount != "" {
			parsed, err := strconv.ParseFloat(amount, 64)
			if err != nil {
				log.Printf("Warning: unparseable amount %q for reimbursement %s", amount, id)
			} else {
				claim.Amount = parsed
			}
		}

		if dateStr := row.Get("approval-date"); dateStr != "" {
			if t, err := parseReportDate(dateStr); err == nil {
				claim.ApprovalDate = &t
			}
		}

		claims = append(claims, claim)
	}
	return claims, nil
}

// parseReportDate handles the date formats reimbursement reports use.
func parseReportDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05-07:00",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
