// Package extract converts uploaded files into plain text plus structural
// metadata. Extractors are selected by file type; per-unit failures (a page or
// paragraph that cannot be read) are skipped as long as something is extracted.
package extract

import (
	"errors"
	"fmt"

	"docpipe/internal/model"
)

var (
	ErrUnreadableFile = errors.New("file cannot be opened or parsed")
	ErrEmptyContent   = errors.New("no text content extracted")
)

// Result carries the concatenated text (logical units joined by blank lines)
// and structural metadata such as page or paragraph counts.
type Result struct {
	Text     string
	Metadata map[string]string
}

type Extractor interface {
	Extract(filePath string) (*Result, error)
}

// ForType returns the extractor for a supported file type.
func ForType(ft model.FileType) (Extractor, error) {
	switch ft {
	case model.FileTypePDF:
		return &PDFExtractor{}, nil
	case model.FileTypeDOCX:
		return &DOCXExtractor{}, nil
	default:
		return nil, fmt.Errorf("no extractor for file type %q", ft)
	}
}
