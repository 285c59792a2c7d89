package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/credential-eval-api/internal/models"
)

const documentColumns = `id, request_id, filename, original_filename, storage_path, media_type, size_bytes, document_type, extracted_data, created_at, updated_at`

// DocumentRepository persists uploaded documents.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt
	const query = `INSERT INTO evaluation_documents (id, request_id, filename, original_filename, storage_path, media_type, size_bytes, document_type, extracted_data, created_at, updated_at)
VALUES (:id, :request_id, :filename, :original_filename, :storage_path, :media_type, :size_bytes, :document_type, :extracted_data, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// FindByID returns a document. sql.ErrNoRows is returned untouched.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM evaluation_documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

// ListByRequest returns the documents of a request in upload order.
func (r *DocumentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM evaluation_documents WHERE request_id = $1 ORDER BY created_at ASC`
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, requestID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// SetExtractedData stores the structured record once. It reports false when a
// record was already present.
func (r *DocumentRepository) SetExtractedData(ctx context.Context, id string, record *models.AcademicRecord) (bool, error) {
	const query = `UPDATE evaluation_documents SET extracted_data = $2, updated_at = $3 WHERE id = $1 AND extracted_data IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, record, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set extracted data: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set extracted data: %w", err)
	}
	return affected > 0, nil
}

// ClearExtractedData drops the structured record so the document can be parsed again.
func (r *DocumentRepository) ClearExtractedData(ctx context.Context, id string) error {
	const query = `UPDATE evaluation_documents SET extracted_data = NULL, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear extracted data: %w", err)
	}
	return requireAffected(res, "clear extracted data")
}
