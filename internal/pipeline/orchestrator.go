package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/chunker"
	"docpipe/internal/embed"
	"docpipe/internal/events"
	"docpipe/internal/extract"
	"docpipe/internal/model"
	"docpipe/internal/queue"
	"docpipe/internal/vectorindex"
)

type DocumentStore interface {
	GetByID(documentID string) (*model.Document, error)
	TransitionStatus(documentID string, to model.DocumentStatus, errorMessage string) error
}

type ChunkStore interface {
	ReplaceForDocument(documentID string, chunks []model.Chunk) error
}

type VectorIndex interface {
	UpsertBatch(ctx context.Context, records []vectorindex.Record) error
}

type EventSink interface {
	Publish(ctx context.Context, evt events.DocumentEvent) error
}

type Orchestrator struct {
	docs     DocumentStore
	chunks   ChunkStore
	index    VectorIndex
	embedder embed.Embedder
	queue    queue.Queue
	chunker  *chunker.Chunker
	events   EventSink // optional
	cfg      Config

	// extractorFor is swappable in tests.
	extractorFor func(model.FileType) (extract.Extractor, error)
}

func NewOrchestrator(
	docs DocumentStore,
	chunks ChunkStore,
	index VectorIndex,
	embedder embed.Embedder,
	q queue.Queue,
	ch *chunker.Chunker,
	sink EventSink,
	cfg Config,
) *Orchestrator {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 10
	}
	return &Orchestrator{
		docs:         docs,
		chunks:       chunks,
		index:        index,
		embedder:     embedder,
		queue:        q,
		chunker:      ch,
		events:       sink,
		cfg:          cfg,
		extractorFor: extract.ForType,
	}
}

func newChunkID() string {
	return "chunk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// runProcessing is stage 1: extract text, chunk it, persist the chunk set and
// hand the document to the embedding queue. Any failure marks the document
// failed and propagates so the job is recorded failed too; no stage-2 job is
// enqueued in that case.
func (o *Orchestrator) runProcessing(ctx context.Context, job *queue.Job) (any, error) {
	var payload ProcessingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode processing payload failed: %w", err)
	}

	log := slog.With("document_id", payload.DocumentID, "job_id", job.ID, "stage", "processing")
	log.Info("processing document")

	if err := o.transition(ctx, payload.DocumentID, model.StatusProcessing, ""); err != nil {
		return nil, err
	}

	chunks, err := o.extractAndChunk(payload)
	if err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}

	if err := o.chunks.ReplaceForDocument(payload.DocumentID, chunks); err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}
	log.Info("chunks persisted", "num_chunks", len(chunks))

	jobID, err := o.queue.Enqueue(ctx, o.cfg.EmbeddingQueue, EmbeddingPayload{
		DocumentID: payload.DocumentID,
		Chunks:     chunks,
	}, queue.Options{
		Timeout:   o.cfg.EmbeddingTimeout,
		Retention: o.cfg.JobRetention,
	})
	if err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}
	log.Info("embedding job enqueued", "embedding_job_id", jobID)

	return map[string]any{
		"document_id":      payload.DocumentID,
		"num_chunks":       len(chunks),
		"embedding_job_id": jobID,
	}, nil
}

func (o *Orchestrator) extractAndChunk(payload ProcessingPayload) ([]model.Chunk, error) {
	extractor, err := o.extractorFor(payload.FileType)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(payload.FilePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", payload.FilePath)
		}
		return nil, fmt.Errorf("stat file failed: %w", err)
	}

	result, err := extractor.Extract(payload.FilePath)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"document_id": payload.DocumentID,
		"file_type":   string(payload.FileType),
	}
	for k, v := range result.Metadata {
		meta[k] = v
	}

	pieces, err := o.chunker.Chunk(result.Text, meta)
	if err != nil {
		return nil, err
	}

	chunks := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.Chunk{
			ChunkID:    newChunkID(),
			DocumentID: payload.DocumentID,
			ChunkIndex: p.Index,
			ChunkText:  p.Text,
			ChunkSize:  p.Size,
		}
		chunks[i].SetMetadata(p.Metadata)
	}
	return chunks, nil
}

// runEmbedding is stage 2: embed every chunk, upsert the vector records and
// complete the document. The stage succeeds only when all chunks embedded;
// records keyed by (document_id, chunk_id) make redelivery harmless.
func (o *Orchestrator) runEmbedding(ctx context.Context, job *queue.Job) (any, error) {
	var payload EmbeddingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode embedding payload failed: %w", err)
	}

	log := slog.With("document_id", payload.DocumentID, "job_id", job.ID, "stage", "embedding")
	log.Info("embedding document", "num_chunks", len(payload.Chunks))

	if len(payload.Chunks) == 0 {
		err := fmt.Errorf("no chunks provided for embedding: %s", payload.DocumentID)
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}

	doc, err := o.docs.GetByID(payload.DocumentID)
	if err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document not found: %s", payload.DocumentID)
	}
	// A redelivered job for a finished document has nothing left to do; the
	// status store and the job record must agree, so it succeeds as a no-op.
	if doc.Status == model.StatusCompleted {
		log.Info("document already completed, skipping")
		return map[string]any{
			"document_id":    payload.DocumentID,
			"num_embeddings": 0,
			"skipped":        true,
		}, nil
	}

	records, err := o.embedChunks(ctx, doc, payload.Chunks)
	if err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}

	if err := o.index.UpsertBatch(ctx, records); err != nil {
		o.markFailed(ctx, payload.DocumentID, err)
		return nil, err
	}

	if err := o.transition(ctx, payload.DocumentID, model.StatusCompleted, ""); err != nil {
		return nil, err
	}
	log.Info("document completed", "num_embeddings", len(records))

	return map[string]any{
		"document_id":    payload.DocumentID,
		"num_embeddings": len(records),
	}, nil
}

func (o *Orchestrator) embedChunks(ctx context.Context, doc *model.Document, chunks []model.Chunk) ([]vectorindex.Record, error) {
	records := make([]vectorindex.Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += o.cfg.EmbedBatchSize {
		end := start + o.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.ChunkText
		}
		vectors, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d failed: %w", start, end, err)
		}

		for i, c := range batch {
			records = append(records, vectorindex.Record{
				ChunkID:    c.ChunkID,
				DocumentID: c.DocumentID,
				ChunkIndex: c.ChunkIndex,
				Text:       c.ChunkText,
				Filename:   doc.Filename,
				FileType:   string(doc.FileType),
				Vector:     vectors[i],
			})
		}
	}
	return records, nil
}

// transition updates the status store and mirrors the change onto the event
// queue. Event publish failures are logged, never escalated.
func (o *Orchestrator) transition(ctx context.Context, documentID string, to model.DocumentStatus, errMsg string) error {
	if err := o.docs.TransitionStatus(documentID, to, errMsg); err != nil {
		return err
	}
	if o.events != nil {
		evt := events.DocumentEvent{
			DocumentID: documentID,
			Status:     string(to),
			Error:      errMsg,
			OccurredAt: time.Now(),
		}
		if err := o.events.Publish(ctx, evt); err != nil {
			slog.Warn("publish document event failed", "document_id", documentID, "error", err)
		}
	}
	return nil
}

// markFailed records the failure on the document; the caller re-raises the
// error so the job is recorded failed as well. The two records must agree.
func (o *Orchestrator) markFailed(ctx context.Context, documentID string, cause error) {
	if err := o.transition(ctx, documentID, model.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark document failed did not apply", "document_id", documentID, "error", err)
	}
}
