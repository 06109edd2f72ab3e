package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docpipe/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the document does not exist.
func (r *DocumentRepository) GetByID(documentID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("document_id = ?", documentID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// List returns documents newest first; status filters when non-empty.
func (r *DocumentRepository) List(status model.DocumentStatus) ([]model.Document, error) {
	q := r.db.Model(&model.Document{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var docs []model.Document
	if err := q.Order("upload_time DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// TransitionStatus moves a document to the given status, stamping timestamps
// per the state machine. The UPDATE is guarded by the set of legal source
// states so a concurrent or stale writer cannot skip a state or resurrect a
// terminal document; processing_started_time keeps its first value across
// redeliveries.
func (r *DocumentRepository) TransitionStatus(documentID string, to model.DocumentStatus, errorMessage string) error {
	if !model.ValidStatus(to) {
		return model.ErrInvalidTransition
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":        to,
		"error_message": errorMessage,
	}
	switch to {
	case model.StatusProcessing:
		updates["processing_started_time"] = gorm.Expr("COALESCE(processing_started_time, ?)", now)
	case model.StatusCompleted, model.StatusFailed:
		updates["processing_completed_time"] = now
	}

	res := r.db.Model(&model.Document{}).
		Where("document_id = ? AND status IN ?", documentID, model.TransitionSources(to)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition document status failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		doc, err := r.GetByID(documentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return gorm.ErrRecordNotFound
		}
		return fmt.Errorf("%w: %s -> %s for %s", model.ErrInvalidTransition, doc.Status, to, documentID)
	}
	return nil
}

// Delete removes the document and its chunks in one transaction. The schema
// carries an ON DELETE CASCADE constraint too, but not every deployment
// enforces foreign keys, so the chunk delete is explicit.
func (r *DocumentRepository) Delete(documentID string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", documentID).Delete(&model.Document{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
