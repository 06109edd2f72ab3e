package repository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docpipe/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceForDocument persists a document's chunk set atomically. Rows conflict
// on (document_id, chunk_index) and are overwritten, so a redelivered stage-1
// job that re-derives the same chunk set cannot double-insert; chunks beyond
// the new set's length are removed.
func (r *ChunkRepository) ReplaceForDocument(documentID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to persist for document %s", documentID)
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"chunk_id", "chunk_text", "chunk_size", "metadata",
			}),
		}).Create(&chunks).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ? AND chunk_index >= ?", documentID, len(chunks)).
			Delete(&model.Chunk{}).Error
	})
	if err != nil {
		return fmt.Errorf("replace chunks for document failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocumentID(documentID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) CountByDocumentID(documentID string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Chunk{}).
		Where("document_id = ?", documentID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count chunks by document failed: %w", err)
	}
	return count, nil
}

func (r *ChunkRepository) DeleteByDocumentID(documentID string) error {
	if err := r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}
