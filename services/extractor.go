package services

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"document-context-platform/internal/config"
)

// Extractor pulls plain text out of uploaded document bytes. PDFs go through
// ledongthuc/pdf; text and markdown pass through with cleanup.
type Extractor struct {
	maxBytes int64
}

// ExtractionResult contains the extracted text and any non-fatal warnings.
type ExtractionResult struct {
	Text     string
	Warnings []string
}

func NewExtractor(cfg *config.Config) *Extractor {
	return &Extractor{maxBytes: cfg.MaxFileSize}
}

var whitespaceRe = regexp.MustCompile(`[ \t]{2,}`)

// Extract returns the text content of the document or a typed extraction
// error (empty, oversized, corrupt, unsupported).
func (e *Extractor) Extract(ctx context.Context, data []byte, filename, contentType string) (*ExtractionResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversized, len(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		text     string
		warnings []string
		err      error
	)

	switch {
	case isPDF(data, filename, contentType):
		text, warnings, err = extractPDF(data)
	case isPlainText(filename, contentType):
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: file is not valid UTF-8", ErrCorruptDocument)
		}
		text = string(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return nil, err
	}

	text = cleanText(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}

	return &ExtractionResult{Text: text, Warnings: warnings}, nil
}

func isPDF(data []byte, filename, contentType string) bool {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return true
	}
	return strings.Contains(contentType, "pdf") || strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

func isPlainText(filename, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md")
}

func extractPDF(data []byte) (text string, warnings []string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, warnings = "", nil
			err = fmt.Errorf("%w: %v", ErrCorruptDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			warnings = append(warnings, fmt.Sprintf("page %d could not be read", pageNum))
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d text extraction failed: %v", pageNum, err))
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 && len(warnings) == reader.NumPage() && reader.NumPage() > 0 {
		return "", warnings, fmt.Errorf("%w: no page yielded text", ErrCorruptDocument)
	}
	return sb.String(), warnings, nil
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
