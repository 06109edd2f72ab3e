package extract

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	docx "github.com/fumiama/go-docx"
)

// DOCXExtractor walks the document body in order, taking paragraph text and
// table rows. Paragraphs are joined with blank lines like pages in a PDF.
type DOCXExtractor struct{}

func (e *DOCXExtractor) Extract(filePath string) (*Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	var (
		units      []string
		paragraphs int
		tables     int
	)
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			paragraphs++
			if text := strings.TrimSpace(v.String()); text != "" {
				units = append(units, text)
			}
		case *docx.Table:
			tables++
			if text := strings.TrimSpace(v.String()); text != "" {
				units = append(units, text)
			}
		}
	}

	full := strings.Join(units, "\n\n")
	if strings.TrimSpace(full) == "" {
		return nil, fmt.Errorf("%w: docx %s", ErrEmptyContent, filePath)
	}

	return &Result{
		Text: full,
		Metadata: map[string]string{
			"num_paragraphs": strconv.Itoa(paragraphs),
			"num_tables":     strconv.Itoa(tables),
		},
	}, nil
}
