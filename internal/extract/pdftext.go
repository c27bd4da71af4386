package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// FirstPageText extracts the plain text of page 1 of a PDF. Scanned or
// malformed documents frequently yield nothing; callers decide what an empty
// result means (content validation fails open on it).
func FirstPageText(data []byte) (text string, err error) {
	// The parser panics on some malformed documents
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	if reader.NumPage() < 1 {
		return "", nil
	}

	page := reader.Page(1)
	if page.V.IsNull() {
		return "", nil
	}

	content, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract page text: %w", err)
	}
	return content, nil
}
