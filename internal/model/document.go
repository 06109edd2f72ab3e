package model

import (
	"errors"
	"fmt"
	"time"
)

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid document status transition")

// statusTransitions is the pipeline state machine, keyed by current status.
// A redelivered stage-1 job may re-enter processing; completed and failed are
// terminal for the attempt.
var statusTransitions = map[DocumentStatus][]DocumentStatus{
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

func ValidStatus(s DocumentStatus) bool {
	_, ok := statusTransitions[s]
	return ok
}

func CanTransition(from, to DocumentStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which a transition to the given
// status is legal. Used to guard the UPDATE so that a stale worker cannot
// resurrect a terminal document.
func TransitionSources(to DocumentStatus) []DocumentStatus {
	var sources []DocumentStatus
	for from, nexts := range statusTransitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

type Document struct {
	DocumentID              string         `gorm:"primaryKey;size:64" json:"document_id"`
	Filename                string         `gorm:"size:256;not null" json:"filename"`
	FilePath                string         `gorm:"size:512;not null" json:"file_path"`
	FileType                FileType       `gorm:"size:8;not null" json:"file_type"`
	FileSize                int64          `gorm:"not null" json:"file_size"`
	Status                  DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	UploadTime              time.Time      `gorm:"not null;index" json:"upload_time"`
	ProcessingStartedTime   *time.Time     `json:"processing_started_time,omitempty"`
	ProcessingCompletedTime *time.Time     `json:"processing_completed_time,omitempty"`
	ErrorMessage            string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;references:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// ParseFileType maps a file extension (without dot, lowercased by the caller)
// to a supported file type.
func ParseFileType(ext string) (FileType, error) {
	switch ext {
	case "pdf":
		return FileTypePDF, nil
	case "docx":
		return FileTypeDOCX, nil
	default:
		return "", fmt.Errorf("unsupported file type: %q", ext)
	}
}
