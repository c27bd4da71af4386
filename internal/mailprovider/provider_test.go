package mailprovider

import "testing"

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{
			name:     "display name with brackets",
			header:   `"Acme Billing" <Billing@Acme.com>`,
			expected: "billing@acme.com",
		},
		{
			name:     "bare address",
			header:   "invoices@supplier.co.uk",
			expected: "invoices@supplier.co.uk",
		},
		{
			name:     "uppercase bare address",
			header:   "INVOICES@SUPPLIER.COM",
			expected: "invoices@supplier.com",
		},
		{
			name:     "unquoted display name",
			header:   "Acme Billing <billing@acme.com>",
			expected: "billing@acme.com",
		},
		{
			name:     "whitespace padding",
			header:   "  billing@acme.com  ",
			expected: "billing@acme.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SenderAddress(tt.header)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name     string
		att      AttachmentInfo
		expected bool
	}{
		{"pdf mime type", AttachmentInfo{MimeType: "application/pdf", Filename: "doc"}, true},
		{"pdf mime type mixed case", AttachmentInfo{MimeType: "Application/PDF"}, true},
		{"pdf extension only", AttachmentInfo{MimeType: "application/octet-stream", Filename: "invoice.PDF"}, true},
		{"image", AttachmentInfo{MimeType: "image/png", Filename: "logo.png"}, false},
		{"no hints", AttachmentInfo{MimeType: "application/octet-stream", Filename: "data.bin"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPDF(tt.att); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
