// Package app holds the use-case services behind the HTTP handlers: document
// ingestion and the read/query side. Services validate input, talk to the
// stores and the queue, and return sentinel errors the transport layer maps to
// status codes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/model"
	"docpipe/internal/pipeline"
	"docpipe/internal/queue"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyFile           = errors.New("uploaded file is empty")
	ErrFileTooLarge        = errors.New("uploaded file exceeds the size limit")
)

type DocumentCreator interface {
	Create(doc *model.Document) error
}

type IngestConfig struct {
	UploadDir         string
	MaxFileSize       int64
	ProcessingQueue   string
	ProcessingTimeout time.Duration
	JobRetention      time.Duration
}

type IngestService struct {
	docs  DocumentCreator
	queue queue.Queue
	cfg   IngestConfig
}

func NewIngestService(docs DocumentCreator, q queue.Queue, cfg IngestConfig) *IngestService {
	return &IngestService{docs: docs, queue: q, cfg: cfg}
}

// Upload is the incoming file: name and declared size plus its content stream.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

type IngestResult struct {
	DocumentID string         `json:"document_id"`
	JobID      string         `json:"job_id"`
	Filename   string         `json:"filename"`
	FileType   model.FileType `json:"file_type"`
	Status     string         `json:"status"`
}

func newDocumentID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Ingest validates the upload, saves it under the upload directory, records
// the document as uploaded and enqueues the stage-1 job.
func (s *IngestService) Ingest(ctx context.Context, up Upload) (*IngestResult, error) {
	fileType, err := validateUpload(up, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	documentID := newDocumentID()
	filePath, size, err := s.saveFile(documentID, up)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		os.Remove(filePath)
		return nil, ErrEmptyFile
	}

	doc := &model.Document{
		DocumentID: documentID,
		Filename:   filepath.Base(up.Filename),
		FilePath:   filePath,
		FileType:   fileType,
		FileSize:   size,
		Status:     model.StatusUploaded,
		UploadTime: time.Now(),
	}
	if err := s.docs.Create(doc); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, s.cfg.ProcessingQueue, pipeline.ProcessingPayload{
		DocumentID: documentID,
		FilePath:   filePath,
		FileType:   fileType,
	}, queue.Options{
		Timeout:   s.cfg.ProcessingTimeout,
		Retention: s.cfg.JobRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue processing job failed: %w", err)
	}

	slog.Info("document ingested",
		"document_id", documentID,
		"filename", doc.Filename,
		"file_type", fileType,
		"file_size", size,
		"job_id", jobID,
	)

	return &IngestResult{
		DocumentID: documentID,
		JobID:      jobID,
		Filename:   doc.Filename,
		FileType:   fileType,
		Status:     string(model.StatusUploaded),
	}, nil
}

func validateUpload(up Upload, maxSize int64) (model.FileType, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(up.Filename), "."))
	fileType, err := model.ParseFileType(ext)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if up.Size == 0 {
		return "", ErrEmptyFile
	}
	if maxSize > 0 && up.Size > maxSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, up.Size, maxSize)
	}
	return fileType, nil
}

func (s *IngestService) saveFile(documentID string, up Upload) (string, int64, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir failed: %w", err)
	}

	dest := filepath.Join(s.cfg.UploadDir, documentID+"_"+filepath.Base(up.Filename))
	f, err := os.Create(dest)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file failed: %w", err)
	}
	defer f.Close()

	reader := up.Content
	if s.cfg.MaxFileSize > 0 {
		reader = io.LimitReader(reader, s.cfg.MaxFileSize+1)
	}
	written, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(dest)
		return "", 0, fmt.Errorf("save upload failed: %w", err)
	}
	if s.cfg.MaxFileSize > 0 && written > s.cfg.MaxFileSize {
		os.Remove(dest)
		return "", 0, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	return dest, written, nil
}
