package extract

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts page text in order. Unreadable pages are logged and
// skipped; the document fails only when no page yields text.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(filePath string) (*Result, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var pages []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("skipping unreadable pdf page", "file", filePath, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	full := strings.Join(pages, "\n\n")
	if strings.TrimSpace(full) == "" {
		return nil, fmt.Errorf("%w: pdf %s", ErrEmptyContent, filePath)
	}

	return &Result{
		Text: full,
		Metadata: map[string]string{
			"num_pages": strconv.Itoa(totalPages),
		},
	}, nil
}
