// Package chunker splits extracted text into size-bounded, overlap-preserving
// chunks by recursively descending a cascade of boundary separators, most
// semantic first.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyInput    = errors.New("cannot chunk empty text")
	ErrInvalidConfig = errors.New("invalid chunker configuration")
)

// separators is the boundary cascade: paragraph break, line break, sentence
// punctuation, clause punctuation, word boundary, then a hard character cut.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// Chunk is one output segment. Index values form 0..N-1 in source order.
type Chunk struct {
	Index    int
	Text     string
	Size     int
	Metadata map[string]string
}

type Chunker struct {
	maxSize int
	overlap int
}

// New validates the size bounds up front; overlap must be strictly smaller
// than maxSize.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than max size %d", ErrInvalidConfig, overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Chunk splits text into ordered chunks of at most maxSize characters each.
// Each separator stays attached to the segment it terminates, and adjacent
// chunks share a span of roughly overlap characters. The same input with the
// same configuration always yields the same sequence.
func (c *Chunker) Chunk(text string, metadata map[string]string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	pieces := split(text, separators, c.maxSize)
	merged := c.merge(pieces)

	chunks := make([]Chunk, len(merged))
	for i, t := range merged {
		meta := make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
		chunks[i] = Chunk{
			Index:    i,
			Text:     t,
			Size:     utf8.RuneCountInString(t),
			Metadata: meta,
		}
	}
	return chunks, nil
}

// split breaks text into pieces no longer than maxSize characters, trying each
// separator in order and recursing with the remaining cascade on any piece
// still too large. The empty separator cuts at the character level and
// guarantees termination.
func split(text string, seps []string, maxSize int) []string {
	if utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}

	sep := ""
	rest := seps
	for i, s := range seps {
		if s == "" {
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return splitRunes(text, maxSize)
	}

	var pieces []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) > maxSize {
			pieces = append(pieces, split(part, rest, maxSize)...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func splitRunes(text string, maxSize int) []string {
	runes := []rune(text)
	var pieces []string
	for start := 0; start < len(runes); start += maxSize {
		end := start + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// merge greedily packs pieces into chunks. When adding the next piece would
// exceed maxSize the running chunk is emitted, then pieces are dropped from
// its front until what remains fits both the overlap budget and the next
// piece; the retained tail becomes the shared span between neighbours.
func (c *Chunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)

	for _, piece := range pieces {
		size := utf8.RuneCountInString(piece)
		if total+size > c.maxSize && len(current) > 0 {
			out = append(out, strings.Join(current, ""))
			for len(current) > 0 && (total > c.overlap || total+size > c.maxSize) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += size
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, ""))
	}
	return out
}
