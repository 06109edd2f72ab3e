// Package pipeline drives documents through their processing stages in
// response to job deliveries: extraction and chunking first, then embedding
// and indexing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"docpipe/internal/model"
	"docpipe/internal/queue"
)

// ProcessingPayload is the stage-1 job body.
type ProcessingPayload struct {
	DocumentID string         `json:"document_id"`
	FilePath   string         `json:"file_path"`
	FileType   model.FileType `json:"file_type"`
}

// EmbeddingPayload is the stage-2 job body, carrying the chunk set so the
// embedding worker needs no store read to do its work.
type EmbeddingPayload struct {
	DocumentID string        `json:"document_id"`
	Chunks     []model.Chunk `json:"chunks"`
}

type StageFunc func(ctx context.Context, job *queue.Job) (any, error)

// Stage binds a pipeline phase to its queue. The ordered table returned by
// Stages is the single place stage wiring lives; adding or reordering stages
// does not touch the worker loop.
type Stage struct {
	Name  string
	Queue string
	Run   StageFunc
}

type Config struct {
	ProcessingQueue   string
	EmbeddingQueue    string
	ProcessingTimeout time.Duration
	EmbeddingTimeout  time.Duration
	JobRetention      time.Duration
	EmbedBatchSize    int
}

// Stages returns the pipeline's stage table in execution order.
func (o *Orchestrator) Stages() []Stage {
	return []Stage{
		{Name: "processing", Queue: o.cfg.ProcessingQueue, Run: o.runProcessing},
		{Name: "embedding", Queue: o.cfg.EmbeddingQueue, Run: o.runEmbedding},
	}
}

func (o *Orchestrator) StageByName(name string) (Stage, error) {
	for _, s := range o.Stages() {
		if s.Name == name {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("unknown pipeline stage: %q", name)
}
