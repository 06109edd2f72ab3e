package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docpipe/internal/embed"
	"docpipe/internal/model"
	"docpipe/internal/queue"
	"docpipe/internal/vectorindex"
)

const (
	defaultTopK = 5
	maxTopK     = 50
)

var (
	ErrEmptyQuery          = errors.New("query text is empty")
	ErrInvalidTopK         = fmt.Errorf("top_k must be between 1 and %d", maxTopK)
	ErrInvalidStatusFilter = errors.New("unknown status filter")
	ErrDocumentNotFound    = errors.New("document not found")
)

type DocumentReader interface {
	GetByID(documentID string) (*model.Document, error)
	List(status model.DocumentStatus) ([]model.Document, error)
}

type ChunkReader interface {
	ListByDocumentID(documentID string) ([]model.Chunk, error)
	CountByDocumentID(documentID string) (int64, error)
}

type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int, documentID, fileType string) ([]vectorindex.Match, error)
}

type QueryService struct {
	docs     DocumentReader
	chunks   ChunkReader
	index    Searcher
	embedder embed.Embedder
	queue    queue.Queue
}

func NewQueryService(docs DocumentReader, chunks ChunkReader, index Searcher, embedder embed.Embedder, q queue.Queue) *QueryService {
	return &QueryService{
		docs:     docs,
		chunks:   chunks,
		index:    index,
		embedder: embedder,
		queue:    q,
	}
}

type QueryRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	DocumentID string `json:"document_id"`
	FileType   string `json:"file_type"`
}

type QueryMatch struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata"`
}

type QueryResult struct {
	Query           string       `json:"query"`
	Results         []QueryMatch `json:"results"`
	NumResults      int          `json:"num_results"`
	ExecutionTimeMS int64        `json:"execution_time_ms"`
}

// Query embeds the query text and searches the vector index, preserving the
// index's rank order. top_k defaults to 5 and must stay within [1, 50].
func (s *QueryService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	topK := req.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	if topK < 1 || topK > maxTopK {
		return nil, ErrInvalidTopK
	}

	if req.FileType != "" {
		if _, err := model.ParseFileType(req.FileType); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFileType, err)
		}
	}

	started := time.Now()

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, topK, req.DocumentID, req.FileType)
	if err != nil {
		return nil, err
	}

	results := make([]QueryMatch, len(hits))
	for i, h := range hits {
		results[i] = QueryMatch{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Score:      h.Score,
			Metadata: map[string]string{
				"filename":  h.Filename,
				"file_type": h.FileType,
			},
		}
	}

	return &QueryResult{
		Query:           text,
		Results:         results,
		NumResults:      len(results),
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}, nil
}

type DocumentSummary struct {
	model.Document
	NumChunks int64 `json:"num_chunks"`
}

type DocumentList struct {
	Documents      []DocumentSummary `json:"documents"`
	TotalDocuments int               `json:"total_documents"`
}

// ListDocuments returns documents newest first with per-document chunk
// counts; status filters when non-empty. The vector index is never touched.
func (s *QueryService) ListDocuments(status string) (*DocumentList, error) {
	filter := model.DocumentStatus(status)
	if status != "" && !model.ValidStatus(filter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, status)
	}

	docs, err := s.docs.List(filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		count, err := s.chunks.CountByDocumentID(d.DocumentID)
		if err != nil {
			return nil, err
		}
		summaries[i] = DocumentSummary{Document: d, NumChunks: count}
	}

	return &DocumentList{Documents: summaries, TotalDocuments: len(summaries)}, nil
}

type DocumentDetail struct {
	model.Document
	NumChunks int           `json:"num_chunks"`
	Chunks    []model.Chunk `json:"chunks"`
}

func (s *QueryService) GetDocument(documentID string) (*DocumentDetail, error) {
	doc, err := s.docs.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	chunks, err := s.chunks.ListByDocumentID(documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{Document: *doc, NumChunks: len(chunks), Chunks: chunks}, nil
}

func (s *QueryService) JobStatus(ctx context.Context, jobID string) (*queue.Job, error) {
	return s.queue.Status(ctx, jobID)
}

func (s *QueryService) QueueStats(ctx context.Context, queueName string) (queue.Stats, error) {
	return s.queue.Stats(ctx, queueName)
}
