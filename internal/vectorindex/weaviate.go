// Package vectorindex stores chunk vectors in a Weaviate collection and runs
// similarity searches over them. Vectors are supplied by the caller; Weaviate
// only indexes them.
package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docpipe/internal/config"
)

const className = "DocumentChunk"

var chunkClass = &models.Class{
	Class:       className,
	Description: "Document chunks with embeddings for semantic search",
	Properties: []*models.Property{
		{Name: "document_id", DataType: []string{"text"}},
		{Name: "chunk_id", DataType: []string{"text"}},
		{Name: "chunk_index", DataType: []string{"int"}},
		{Name: "text", DataType: []string{"text"}},
		{Name: "filename", DataType: []string{"text"}},
		{Name: "file_type", DataType: []string{"text"}},
	},
	Vectorizer:      "none",
	VectorIndexType: "hnsw",
}

// Record is one chunk's entry in the index.
type Record struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Filename   string
	FileType   string
	Vector     []float32
}

// Match is a search hit in rank order as returned by the index.
type Match struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Filename   string
	FileType   string
	Score      float32
}

type Store struct {
	client *weaviate.Client
}

func New(ctx context.Context, cfg config.WeaviateConfig) (*Store, error) {
	scheme := "http"
	if strings.HasPrefix(cfg.Host, "https") {
		scheme = "https"
	}
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://")

	clientCfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		clientCfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client failed: %w", err)
	}

	store := &Store{client: client}
	if err := store.ensureClass(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureClass(ctx context.Context) error {
	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("get weaviate schema failed: %w", err)
	}
	for _, class := range schema.Classes {
		if class.Class == className {
			return nil
		}
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass).Do(ctx); err != nil {
		return fmt.Errorf("create %s class failed: %w", className, err)
	}
	return nil
}

// Ready reports whether the index answers schema reads; used by health checks.
func (s *Store) Ready(ctx context.Context) bool {
	_, err := s.client.Schema().Getter().Do(ctx)
	return err == nil
}

// objectID derives a stable Weaviate object ID from the de-duplication key, so
// re-running the embedding stage overwrites records instead of duplicating
// them.
func objectID(documentID, chunkID string) strfmt.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("docpipe/"+documentID+"/"+chunkID))
	return strfmt.UUID(id.String())
}

// UpsertBatch writes one object per record, keyed by (document_id, chunk_id).
func (s *Store) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, r := range records {
		batcher = batcher.WithObjects(&models.Object{
			Class: className,
			ID:    objectID(r.DocumentID, r.ChunkID),
			Properties: map[string]interface{}{
				"document_id": r.DocumentID,
				"chunk_id":    r.ChunkID,
				"chunk_index": r.ChunkIndex,
				"text":        r.Text,
				"filename":    r.Filename,
				"file_type":   r.FileType,
			},
			Vector: r.Vector,
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return fmt.Errorf("batch insert vector records failed: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("vector record %s rejected: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Search runs a nearVector query with optional equality filters, returning
// matches in the index's rank order. Score is 1 - cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, documentID, fileType string) ([]Match, error) {
	fields := []graphql.Field{
		{Name: "document_id"},
		{Name: "chunk_id"},
		{Name: "chunk_index"},
		{Name: "text"},
		{Name: "filename"},
		{Name: "file_type"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	near := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	builder := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearVector(near).
		WithLimit(limit)

	if where := buildWhere(documentID, fileType); where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("vector search failed: %s", resp.Errors[0].Message)
	}

	return parseMatches(resp.Data)
}

func buildWhere(documentID, fileType string) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if documentID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"document_id"}).
			WithOperator(filters.Equal).
			WithValueText(documentID))
	}
	if fileType != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"file_type"}).
			WithOperator(filters.Equal).
			WithValueText(fileType))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func parseMatches(data map[string]models.JSONObject) ([]Match, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed search response: missing Get")
	}
	items, ok := get[className].([]interface{})
	if !ok {
		return nil, nil
	}

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		m := Match{
			ChunkID:    asString(obj["chunk_id"]),
			DocumentID: asString(obj["document_id"]),
			ChunkIndex: asInt(obj["chunk_index"]),
			Text:       asString(obj["text"]),
			Filename:   asString(obj["filename"]),
			FileType:   asString(obj["file_type"]),
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				m.Score = 1 - float32(distance)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}
