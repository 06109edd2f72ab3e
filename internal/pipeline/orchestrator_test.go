package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/chunker"
	"docpipe/internal/events"
	"docpipe/internal/extract"
	"docpipe/internal/model"
	"docpipe/internal/queue"
	"docpipe/internal/vectorindex"
)

type fakeDocs struct {
	docs        map[string]*model.Document
	transitions []model.DocumentStatus
	lastError   string
	failOn      model.DocumentStatus
}

func newFakeDocs(docs ...*model.Document) *fakeDocs {
	f := &fakeDocs{docs: map[string]*model.Document{}}
	for _, d := range docs {
		f.docs[d.DocumentID] = d
	}
	return f
}

func (f *fakeDocs) GetByID(documentID string) (*model.Document, error) {
	return f.docs[documentID], nil
}

func (f *fakeDocs) TransitionStatus(documentID string, to model.DocumentStatus, errorMessage string) error {
	if f.failOn != "" && to == f.failOn {
		return fmt.Errorf("transition %s rejected: %w", to, model.ErrInvalidTransition)
	}
	f.transitions = append(f.transitions, to)
	f.lastError = errorMessage
	if d, ok := f.docs[documentID]; ok {
		d.Status = to
		d.ErrorMessage = errorMessage
	}
	return nil
}

type fakeChunks struct {
	byDocument map[string][]model.Chunk
	err        error
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{byDocument: map[string][]model.Chunk{}}
}

func (f *fakeChunks) ReplaceForDocument(documentID string, chunks []model.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.byDocument[documentID] = chunks
	return nil
}

type fakeIndex struct {
	records []vectorindex.Record
	err     error
}

func (f *fakeIndex) UpsertBatch(ctx context.Context, records []vectorindex.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1}
	}
	return vectors, nil
}

type enqueued struct {
	queueName string
	payload   any
	opts      queue.Options
}

type fakeQueue struct {
	enqueues []enqueued
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, queueName string, payload any, opts queue.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueues = append(f.enqueues, enqueued{queueName: queueName, payload: payload, opts: opts})
	return fmt.Sprintf("job_%06d", len(f.enqueues)), nil
}

func (f *fakeQueue) Dequeue(ctx context.Context, queueName string) (*queue.Delivery, error) {
	return nil, queue.ErrQueueStopped
}

func (f *fakeQueue) Complete(ctx context.Context, d *queue.Delivery, result any) error { return nil }
func (f *fakeQueue) Fail(ctx context.Context, d *queue.Delivery, jobErr error) error   { return nil }
func (f *fakeQueue) Status(ctx context.Context, jobID string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (f *fakeQueue) RequeueExpired(ctx context.Context, queueName string) (int, error) {
	return 0, nil
}
func (f *fakeQueue) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	return queue.Stats{Queue: queueName}, nil
}

type fakeSink struct {
	events []events.DocumentEvent
}

func (f *fakeSink) Publish(ctx context.Context, evt events.DocumentEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract(filePath string) (*extract.Result, error) {
	return f.result, f.err
}

type testEnv struct {
	docs     *fakeDocs
	chunks   *fakeChunks
	index    *fakeIndex
	embedder *fakeEmbedder
	queue    *fakeQueue
	sink     *fakeSink
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, docs *fakeDocs) *testEnv {
	t.Helper()

	ch, err := chunker.New(512, 50)
	require.NoError(t, err)

	env := &testEnv{
		docs:     docs,
		chunks:   newFakeChunks(),
		index:    &fakeIndex{},
		embedder: &fakeEmbedder{},
		queue:    &fakeQueue{},
		sink:     &fakeSink{},
	}
	env.orch = NewOrchestrator(env.docs, env.chunks, env.index, env.embedder, env.queue, ch, env.sink, Config{
		ProcessingQueue:   "processing",
		EmbeddingQueue:    "embedding",
		ProcessingTimeout: 10 * time.Minute,
		EmbeddingTimeout:  15 * time.Minute,
		JobRetention:      24 * time.Hour,
		EmbedBatchSize:    2,
	})
	return env
}

func (e *testEnv) useExtractor(x extract.Extractor) {
	e.orch.extractorFor = func(model.FileType) (extract.Extractor, error) {
		return x, nil
	}
}

func processingJob(t *testing.T, payload ProcessingPayload) *queue.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job_stage1", Queue: "processing", Payload: body}
}

func embeddingJob(t *testing.T, payload EmbeddingPayload) *queue.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "job_stage2", Queue: "embedding", Payload: body}
}

func writeTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc_abc123_report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 placeholder"), 0o644))
	return path
}

func TestProcessingStage(t *testing.T) {
	uploaded := func() *model.Document {
		return &model.Document{
			DocumentID: "doc_abc123def456",
			Filename:   "report.pdf",
			FileType:   model.FileTypePDF,
			Status:     model.StatusUploaded,
		}
	}

	t.Run("extracts, persists chunks and enqueues embedding", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(uploaded()))
		env.useExtractor(&fakeExtractor{result: &extract.Result{
			Text:     "First paragraph of the report.\n\nSecond paragraph of the report.",
			Metadata: map[string]string{"num_pages": "2"},
		}})

		payload := ProcessingPayload{
			DocumentID: "doc_abc123def456",
			FilePath:   writeTempFile(t),
			FileType:   model.FileTypePDF,
		}
		result, err := env.orch.runProcessing(context.Background(), processingJob(t, payload))
		require.NoError(t, err)

		assert.Equal(t, []model.DocumentStatus{model.StatusProcessing}, env.docs.transitions)

		chunks := env.chunks.byDocument["doc_abc123def456"]
		require.NotEmpty(t, chunks)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, "doc_abc123def456", c.DocumentID)
			assert.Regexp(t, `^chunk_[0-9a-f]{12}$`, c.ChunkID)
			meta := c.MetadataMap()
			assert.Equal(t, "doc_abc123def456", meta["document_id"])
			assert.Equal(t, "pdf", meta["file_type"])
			assert.Equal(t, "2", meta["num_pages"])
		}

		require.Len(t, env.queue.enqueues, 1)
		enq := env.queue.enqueues[0]
		assert.Equal(t, "embedding", enq.queueName)
		assert.Equal(t, 15*time.Minute, enq.opts.Timeout)
		assert.Equal(t, 24*time.Hour, enq.opts.Retention)
		embedPayload, ok := enq.payload.(EmbeddingPayload)
		require.True(t, ok)
		assert.Equal(t, "doc_abc123def456", embedPayload.DocumentID)
		assert.Equal(t, chunks, embedPayload.Chunks)

		out, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, len(chunks), out["num_chunks"])

		require.Len(t, env.sink.events, 1)
		assert.Equal(t, string(model.StatusProcessing), env.sink.events[0].Status)
	})

	t.Run("extraction failure marks document failed and skips embedding", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(uploaded()))
		env.useExtractor(&fakeExtractor{err: extract.ErrEmptyContent})

		payload := ProcessingPayload{
			DocumentID: "doc_abc123def456",
			FilePath:   writeTempFile(t),
			FileType:   model.FileTypePDF,
		}
		_, err := env.orch.runProcessing(context.Background(), processingJob(t, payload))
		require.ErrorIs(t, err, extract.ErrEmptyContent)

		assert.Equal(t, []model.DocumentStatus{model.StatusProcessing, model.StatusFailed}, env.docs.transitions)
		assert.Equal(t, extract.ErrEmptyContent.Error(), env.docs.lastError)
		assert.Empty(t, env.queue.enqueues)
		assert.Empty(t, env.chunks.byDocument)
	})

	t.Run("missing file marks document failed", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(uploaded()))

		payload := ProcessingPayload{
			DocumentID: "doc_abc123def456",
			FilePath:   filepath.Join(t.TempDir(), "gone.pdf"),
			FileType:   model.FileTypePDF,
		}
		_, err := env.orch.runProcessing(context.Background(), processingJob(t, payload))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file not found")

		assert.Equal(t, []model.DocumentStatus{model.StatusProcessing, model.StatusFailed}, env.docs.transitions)
		assert.Empty(t, env.queue.enqueues)
	})

	t.Run("chunk store failure marks document failed", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(uploaded()))
		env.useExtractor(&fakeExtractor{result: &extract.Result{Text: "Some content."}})
		env.chunks.err = errors.New("mysql gone away")

		payload := ProcessingPayload{
			DocumentID: "doc_abc123def456",
			FilePath:   writeTempFile(t),
			FileType:   model.FileTypePDF,
		}
		_, err := env.orch.runProcessing(context.Background(), processingJob(t, payload))
		require.Error(t, err)

		assert.Equal(t, []model.DocumentStatus{model.StatusProcessing, model.StatusFailed}, env.docs.transitions)
		assert.Empty(t, env.queue.enqueues)
	})

	t.Run("terminal document is not resurrected", func(t *testing.T) {
		docs := newFakeDocs(uploaded())
		docs.failOn = model.StatusProcessing
		env := newTestEnv(t, docs)
		env.useExtractor(&fakeExtractor{result: &extract.Result{Text: "Some content."}})

		payload := ProcessingPayload{
			DocumentID: "doc_abc123def456",
			FilePath:   writeTempFile(t),
			FileType:   model.FileTypePDF,
		}
		_, err := env.orch.runProcessing(context.Background(), processingJob(t, payload))
		require.ErrorIs(t, err, model.ErrInvalidTransition)

		assert.Empty(t, env.chunks.byDocument)
		assert.Empty(t, env.queue.enqueues)
	})
}

func TestEmbeddingStage(t *testing.T) {
	processingDoc := func() *model.Document {
		return &model.Document{
			DocumentID: "doc_abc123def456",
			Filename:   "report.pdf",
			FileType:   model.FileTypePDF,
			Status:     model.StatusProcessing,
		}
	}
	makeChunks := func(n int) []model.Chunk {
		chunks := make([]model.Chunk, n)
		for i := range chunks {
			chunks[i] = model.Chunk{
				ChunkID:    fmt.Sprintf("chunk_%012d", i),
				DocumentID: "doc_abc123def456",
				ChunkIndex: i,
				ChunkText:  fmt.Sprintf("chunk text %d", i),
				ChunkSize:  12,
			}
		}
		return chunks
	}

	t.Run("embeds all chunks and completes the document", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(processingDoc()))

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456", Chunks: makeChunks(3)}
		result, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.NoError(t, err)

		require.Len(t, env.index.records, 3)
		for i, r := range env.index.records {
			assert.Equal(t, payload.Chunks[i].ChunkID, r.ChunkID)
			assert.Equal(t, "doc_abc123def456", r.DocumentID)
			assert.Equal(t, i, r.ChunkIndex)
			assert.Equal(t, payload.Chunks[i].ChunkText, r.Text)
			assert.Equal(t, "report.pdf", r.Filename)
			assert.Equal(t, "pdf", r.FileType)
			assert.NotEmpty(t, r.Vector)
		}

		assert.Equal(t, []model.DocumentStatus{model.StatusCompleted}, env.docs.transitions)

		out, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 3, out["num_embeddings"])

		require.Len(t, env.sink.events, 1)
		assert.Equal(t, string(model.StatusCompleted), env.sink.events[0].Status)
	})

	t.Run("batches embedding requests", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(processingDoc()))

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456", Chunks: makeChunks(5)}
		_, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.NoError(t, err)

		require.Len(t, env.embedder.batches, 3)
		assert.Len(t, env.embedder.batches[0], 2)
		assert.Len(t, env.embedder.batches[1], 2)
		assert.Len(t, env.embedder.batches[2], 1)
	})

	t.Run("redelivery after completion is a no-op success", func(t *testing.T) {
		doc := processingDoc()
		doc.Status = model.StatusCompleted
		env := newTestEnv(t, newFakeDocs(doc))

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456", Chunks: makeChunks(3)}
		result, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.NoError(t, err)

		assert.Empty(t, env.embedder.batches)
		assert.Empty(t, env.index.records)
		assert.Empty(t, env.docs.transitions)

		out, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, out["skipped"])
	})

	t.Run("embedding failure marks document failed", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(processingDoc()))
		env.embedder.err = errors.New("provider unavailable")

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456", Chunks: makeChunks(2)}
		_, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.Error(t, err)

		assert.Equal(t, []model.DocumentStatus{model.StatusFailed}, env.docs.transitions)
		assert.Equal(t, "provider unavailable", env.docs.docs["doc_abc123def456"].ErrorMessage)
		assert.Empty(t, env.index.records)
	})

	t.Run("index failure marks document failed", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(processingDoc()))
		env.index.err = errors.New("weaviate unavailable")

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456", Chunks: makeChunks(2)}
		_, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.Error(t, err)

		assert.Equal(t, []model.DocumentStatus{model.StatusFailed}, env.docs.transitions)
	})

	t.Run("empty chunk set is a failure", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs(processingDoc()))

		payload := EmbeddingPayload{DocumentID: "doc_abc123def456"}
		_, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.Error(t, err)

		assert.Equal(t, []model.DocumentStatus{model.StatusFailed}, env.docs.transitions)
	})

	t.Run("unknown document is an error", func(t *testing.T) {
		env := newTestEnv(t, newFakeDocs())

		payload := EmbeddingPayload{DocumentID: "doc_missing000000", Chunks: makeChunks(1)}
		_, err := env.orch.runEmbedding(context.Background(), embeddingJob(t, payload))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "document not found")
	})
}
