package model

import (
	"encoding/json"
	"time"
)

// Chunk is one bounded-size span of a document's extracted text. Rows are
// immutable once written; re-processing a document replaces them wholesale
// keyed by (document_id, chunk_index).
type Chunk struct {
	ChunkID    string    `gorm:"primaryKey;size:64" json:"chunk_id"`
	DocumentID string    `gorm:"size:64;not null;index;uniqueIndex:idx_chunks_doc_index,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_chunks_doc_index,priority:2" json:"chunk_index"`
	ChunkText  string    `gorm:"type:text;not null" json:"chunk_text"`
	ChunkSize  int       `gorm:"not null" json:"chunk_size"`
	Metadata   string    `gorm:"type:text" json:"metadata"` // JSON object
	CreatedAt  time.Time `json:"created_at"`
}

// SetMetadata stores the metadata map as JSON.
func (c *Chunk) SetMetadata(meta map[string]string) {
	if len(meta) == 0 {
		c.Metadata = "{}"
		return
	}
	b, _ := json.Marshal(meta)
	c.Metadata = string(b)
}

// MetadataMap returns the parsed metadata; empty on parse error.
func (c *Chunk) MetadataMap() map[string]string {
	if c.Metadata == "" {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(c.Metadata), &m); err != nil || m == nil {
		return map[string]string{}
	}
	return m
}
