package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/credential-eval-api/internal/models"
)

const evaluationRequestColumns = `id, student_ref, institution, country_code, program_name, evaluation_type, status, failure_reason, created_at, updated_at`

// EvaluationRequestRepository provides database access for evaluation requests.
type EvaluationRequestRepository struct {
	db *sqlx.DB
}

// NewEvaluationRequestRepository creates a new instance of EvaluationRequestRepository.
func NewEvaluationRequestRepository(db *sqlx.DB) *EvaluationRequestRepository {
	return &EvaluationRequestRepository{db: db}
}

// Create inserts a new request row.
func (r *EvaluationRequestRepository) Create(ctx context.Context, req *models.EvaluationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	if req.Status == "" {
		req.Status = models.EvaluationStatusSubmitted
	}
	if req.EvaluationType == "" {
		req.EvaluationType = models.EvaluationTypeDocumentByDocument
	}
	const query = `INSERT INTO evaluation_requests (id, student_ref, institution, country_code, program_name, evaluation_type, status, failure_reason, created_at, updated_at)
VALUES (:id, :student_ref, :institution, :country_code, :program_name, :evaluation_type, :status, :failure_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create evaluation request: %w", err)
	}
	return nil
}

// FindByID returns a request by identifier. sql.ErrNoRows is returned untouched.
func (r *EvaluationRequestRepository) FindByID(ctx context.Context, id string) (*models.EvaluationRequest, error) {
	query := `SELECT ` + evaluationRequestColumns + ` FROM evaluation_requests WHERE id = $1`
	var req models.EvaluationRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter with the total count.
func (r *EvaluationRequestRepository) List(ctx context.Context, filter models.EvaluationRequestFilter) ([]models.EvaluationRequest, int, error) {
	baseQuery := `FROM evaluation_requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentRef != "" {
		conditions = append(conditions, fmt.Sprintf("student_ref = $%d", len(args)+1))
		args = append(args, filter.StudentRef)
	}
	if filter.CountryCode != "" {
		conditions = append(conditions, fmt.Sprintf("country_code = $%d", len(args)+1))
		args = append(args, models.NormalizeCountryCode(filter.CountryCode))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", evaluationRequestColumns, baseQuery, pageSize, offset)
	var items []models.EvaluationRequest
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list evaluation requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", baseQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("count evaluation requests: %w", err)
	}
	return items, total, nil
}

// UpdateStatus writes a new status and failure reason and bumps updated_at.
func (r *EvaluationRequestRepository) UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, reason *string, at time.Time) error {
	const query = `UPDATE evaluation_requests SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, reason, at)
	if err != nil {
		return fmt.Errorf("update evaluation status: %w", err)
	}
	return requireAffected(res, "update evaluation status")
}

// UpdateContext stores the processing context captured at advance time.
func (r *EvaluationRequestRepository) UpdateContext(ctx context.Context, req *models.EvaluationRequest) error {
	req.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluation_requests SET institution = :institution, country_code = :country_code, evaluation_type = :evaluation_type, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, req)
	if err != nil {
		return fmt.Errorf("update evaluation context: %w", err)
	}
	return requireAffected(res, "update evaluation context")
}

// ListStale returns requests left in status since before cutoff.
func (r *EvaluationRequestRepository) ListStale(ctx context.Context, status models.EvaluationStatus, cutoff time.Time, limit int) ([]models.EvaluationRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + evaluationRequestColumns + ` FROM evaluation_requests WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	var items []models.EvaluationRequest
	if err := r.db.SelectContext(ctx, &items, query, status, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale evaluation requests: %w", err)
	}
	return items, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
