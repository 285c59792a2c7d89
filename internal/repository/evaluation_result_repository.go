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

const evaluationResultColumns = `id, request_id, ai_analysis, human_review, final_result, reviewed_by, review_notes, reviewed_at, created_at, updated_at`

// EvaluationResultRepository persists the single result row of each request.
type EvaluationResultRepository struct {
	db *sqlx.DB
}

// NewEvaluationResultRepository constructs the repository.
func NewEvaluationResultRepository(db *sqlx.DB) *EvaluationResultRepository {
	return &EvaluationResultRepository{db: db}
}

// FindByRequest returns the result of a request. sql.ErrNoRows is returned untouched.
func (r *EvaluationResultRepository) FindByRequest(ctx context.Context, requestID string) (*models.EvaluationResult, error) {
	query := `SELECT ` + evaluationResultColumns + ` FROM evaluation_results WHERE request_id = $1`
	var result models.EvaluationResult
	if err := r.db.GetContext(ctx, &result, query, requestID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation result: %w", err)
	}
	return &result, nil
}

// UpsertAnalysis creates the result row or replaces its ai_analysis.
func (r *EvaluationResultRepository) UpsertAnalysis(ctx context.Context, result *models.EvaluationResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now
	const query = `INSERT INTO evaluation_results (id, request_id, ai_analysis, created_at, updated_at)
VALUES (:id, :request_id, :ai_analysis, :created_at, :updated_at)
ON CONFLICT (request_id) DO UPDATE SET ai_analysis = EXCLUDED.ai_analysis, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, result); err != nil {
		return fmt.Errorf("upsert evaluation result: %w", err)
	}
	return nil
}

// SaveReview stores a reviewer draft.
func (r *EvaluationResultRepository) SaveReview(ctx context.Context, result *models.EvaluationResult) error {
	result.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluation_results SET human_review = :human_review, reviewed_by = :reviewed_by, review_notes = :review_notes, updated_at = :updated_at WHERE request_id = :request_id`
	res, err := r.db.NamedExecContext(ctx, query, result)
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return requireAffected(res, "save review")
}

// Finalize stores the final result and review metadata.
func (r *EvaluationResultRepository) Finalize(ctx context.Context, result *models.EvaluationResult) error {
	result.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluation_results SET human_review = :human_review, final_result = :final_result, reviewed_by = :reviewed_by, review_notes = :review_notes, reviewed_at = :reviewed_at, updated_at = :updated_at WHERE request_id = :request_id`
	res, err := r.db.NamedExecContext(ctx, query, result)
	if err != nil {
		return fmt.Errorf("finalize evaluation result: %w", err)
	}
	return requireAffected(res, "finalize evaluation result")
}
