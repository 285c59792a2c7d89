package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/models"
	"github.com/noah-isme/credential-eval-api/pkg/export"
	"github.com/noah-isme/credential-eval-api/pkg/storage"
)

type evaluationReader interface {
	Get(ctx context.Context, id string) (*models.EvaluationDetail, error)
}

type fileStorage interface {
	Save(key string, data []byte) (string, error)
	Open(key string) (*os.File, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders evaluation reports and persists the files.
type ExportService struct {
	evaluations evaluationReader
	storage     fileStorage
	renderers   map[models.ReportFormat]export.Renderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         ExportConfig
	now         func() time.Time
}

// NewExportService constructs an ExportService with the csv, pdf and xlsx renderers.
func NewExportService(evaluations evaluationReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		evaluations: evaluations,
		storage:     files,
		renderers: map[models.ReportFormat]export.Renderer{
			models.ReportFormatCSV:  export.NewCSVExporter(),
			models.ReportFormatPDF:  export.NewPDFExporter(),
			models.ReportFormatXLSX: export.NewXLSXExporter(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Generate renders the evaluation referenced by job and stores the file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	renderer, ok := s.renderers[job.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Format)
	}
	detail, err := s.evaluations.Get(ctx, job.RequestID)
	if err != nil {
		return nil, err
	}
	report := models.EvaluationReport{
		Request:     *detail.Request,
		Documents:   detail.Documents,
		Result:      detail.Result,
		GeneratedAt: s.now().UTC(),
	}
	payload, err := renderer.Render(BuildEvaluationDataset(report))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Format, err)
	}

	key := fmt.Sprintf("reports/%s/%s.%s", job.RequestID, job.ID, renderer.Extension())
	relPath, err := s.storage.Save(key, payload)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Sugar().Infow("evaluation report rendered", "job_id", job.ID, "request_id", job.RequestID, "format", job.Format, "bytes", len(payload))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ContentType returns the MIME type served for a format.
func (s *ExportService) ContentType(format models.ReportFormat) string {
	if r, ok := s.renderers[format]; ok {
		return r.ContentType()
	}
	return "application/octet-stream"
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.SignedToken, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(ctx context.Context, relPath string) error {
	return s.storage.Delete(ctx, relPath)
}

// Cleanup removes files older than ttl, or the configured ResultTTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

var reportHeaders = []string{"Document", "Type", "Item", "Original", "US Equivalent", "Grade Points", "Passed", "Note"}

// BuildEvaluationDataset flattens an evaluation into one table row per
// converted course or degree.
func BuildEvaluationDataset(report models.EvaluationReport) export.Dataset {
	req := report.Request
	summary := []export.Field{
		{Label: "Request", Value: req.ID},
		{Label: "Student", Value: req.StudentRef},
		{Label: "Institution", Value: req.Institution},
		{Label: "Country", Value: req.CountryCode},
		{Label: "Evaluation Type", Value: string(req.EvaluationType)},
		{Label: "Status", Value: string(req.Status)},
		{Label: "Documents", Value: strconv.Itoa(len(report.Documents))},
	}

	names := make(map[string]string, len(report.Documents))
	for _, doc := range report.Documents {
		names[doc.ID] = doc.OriginalFilename
	}

	rows := make([]map[string]string, 0)
	if report.Result != nil {
		for _, analysis := range report.Result.AIAnalysis.Documents {
			name := names[analysis.DocumentID]
			if name == "" {
				name = analysis.DocumentID
			}
			rows = append(rows, analysisRows(name, analysis.Result)...)
			if gpa := analysis.Result.NormalizedGPA; gpa != nil {
				summary = append(summary, export.Field{Label: "US GPA (" + name + ")", Value: strconv.FormatFloat(*gpa, 'f', 2, 64)})
			}
		}
		if report.Result.ReviewedBy != nil {
			summary = append(summary, export.Field{Label: "Reviewed By", Value: *report.Result.ReviewedBy})
		}
		if report.Result.ReviewedAt != nil {
			summary = append(summary, export.Field{Label: "Reviewed At", Value: report.Result.ReviewedAt.UTC().Format(time.RFC3339)})
		}
		if report.Result.ReviewNotes != nil && *report.Result.ReviewNotes != "" {
			summary = append(summary, export.Field{Label: "Notes", Value: *report.Result.ReviewNotes})
		}
	}
	summary = append(summary, export.Field{Label: "Generated At", Value: report.GeneratedAt.UTC().Format(time.RFC3339)})

	return export.Dataset{
		Title:   "Credential Evaluation Report",
		Summary: summary,
		Headers: reportHeaders,
		Rows:    rows,
	}
}

func analysisRows(document string, result models.EquivalencyResult) []map[string]string {
	if result.Degree != nil {
		return []map[string]string{{
			"Document":      document,
			"Type":          string(result.DocumentType),
			"Item":          result.Degree.LocalDegree,
			"Original":      result.Degree.Institution,
			"US Equivalent": result.Degree.USEquivalent,
			"Note":          result.Note,
		}}
	}
	rows := make([]map[string]string, 0, len(result.Courses))
	for _, course := range result.Courses {
		rows = append(rows, map[string]string{
			"Document":      document,
			"Type":          string(result.DocumentType),
			"Item":          course.Name,
			"Original":      string(course.OriginalGrade),
			"US Equivalent": course.USGrade,
			"Grade Points":  strconv.FormatFloat(course.GradePoints, 'f', 1, 64),
			"Passed":        strconv.FormatBool(course.Passed),
		})
	}
	return rows
}
