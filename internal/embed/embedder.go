// Package embed turns text into vectors via an external provider. The
// provider is constructed once at bootstrap and passed to both the embedding
// stage and the query engine so both sides always use the same model.
package embed

import "context"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
