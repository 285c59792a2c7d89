package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/llm"
)

// languageModel is the JSON completion capability used by extraction and rule generation.
type languageModel interface {
	CompleteJSON(ctx context.Context, req llm.Request) ([]byte, error)
}

const (
	diplomaInstruction = `You extract structured data from academic diplomas.
Return a JSON object with the fields: institution (string, required), degree (string, required),
graduationDate (string, ISO 8601 date when possible), studentName (string), honors (string or null).
Use the wording printed on the document. Do not translate the degree title. Do not invent values; use null or "" when a field is absent.`

	transcriptInstruction = `You extract structured data from academic transcripts.
Return a JSON object with the fields: courses (array, required, at least one entry), gpa (number or null),
academicPeriod (string or null). Each course has: name (string, required), code (string or null),
credits (number or null), grade (string or number exactly as printed, required), semester (string or null).
Keep courses in the order they appear. Do not convert grades. Do not invent values.`
)

var diplomaSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"institution":    map[string]any{"type": "string"},
		"degree":         map[string]any{"type": "string"},
		"graduationDate": map[string]any{"type": []any{"string", "null"}},
		"studentName":    map[string]any{"type": []any{"string", "null"}},
		"honors":         map[string]any{"type": []any{"string", "null"}},
	},
}

var transcriptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"courses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"code":     map[string]any{"type": []any{"string", "null"}},
					"credits":  map[string]any{"type": []any{"number", "null"}},
					"grade":    map[string]any{"type": []any{"string", "number", "null"}},
					"semester": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"gpa":            map[string]any{"type": []any{"number", "null"}},
		"academicPeriod": map[string]any{"type": []any{"string", "null"}},
	},
}

type diplomaAnswer struct {
	Institution    *string `json:"institution"`
	Degree         *string `json:"degree"`
	GraduationDate *string `json:"graduationDate"`
	StudentName    *string `json:"studentName"`
	Honors         *string `json:"honors"`
}

type transcriptAnswer struct {
	Courses        []models.Course `json:"courses"`
	GPA            *float64        `json:"gpa"`
	AcademicPeriod *string         `json:"academicPeriod"`
}

// StructuredExtractor turns raw document text into typed academic records.
type StructuredExtractor struct {
	model   languageModel
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewStructuredExtractor constructs the extractor.
func NewStructuredExtractor(model languageModel, metrics *MetricsService, logger *zap.Logger) *StructuredExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredExtractor{model: model, metrics: metrics, logger: logger, now: time.Now}
}

// Structure asks the language model for a record of docType and validates its completeness.
func (s *StructuredExtractor) Structure(ctx context.Context, text string, docType models.DocumentType) (*models.AcademicRecord, error) {
	var (
		system string
		schema map[string]any
	)
	switch docType {
	case models.DocumentTypeDiploma:
		system, schema = diplomaInstruction, diplomaSchema
	case models.DocumentTypeTranscript:
		system, schema = transcriptInstruction, transcriptSchema
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedDocumentType, fmt.Sprintf("cannot structure document type %q", docType))
	}
	if s.model == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "language model not configured")
	}

	req := llm.Request{
		Operation: "structure",
		System:    system,
		Prompt:    fmt.Sprintf("Document type: %s\n\nDocument text:\n%s", docType, text),
		Schema:    schema,
	}
	start := time.Now()
	raw, err := s.model.CompleteJSON(ctx, req)
	s.metrics.ObserveLLMCall(req.Operation, err, time.Since(start))
	if err != nil {
		return nil, s.modelError(err, docType)
	}

	record := &models.AcademicRecord{RawText: text, ExtractedAt: s.now().UTC()}
	switch docType {
	case models.DocumentTypeDiploma:
		diploma, err := decodeDiploma(raw)
		if err != nil {
			return nil, err
		}
		record.Kind = models.RecordKindDiploma
		record.Diploma = diploma
	case models.DocumentTypeTranscript:
		transcript, err := decodeTranscript(raw)
		if err != nil {
			return nil, err
		}
		record.Kind = models.RecordKindTranscript
		record.Transcript = transcript
	}
	return record, nil
}

func (s *StructuredExtractor) modelError(err error, docType models.DocumentType) error {
	s.logger.Sugar().Warnw("structured extraction failed", "document_type", docType, "error", err)
	if errors.Is(err, llm.ErrMalformedOutput) {
		return appErrors.Wrap(err, appErrors.ErrMalformedModelOutput.Code, appErrors.ErrMalformedModelOutput.Status, appErrors.ErrMalformedModelOutput.Message)
	}
	msg := "language model unavailable"
	if errors.Is(err, llm.ErrTimeout) {
		msg = "language model timed out"
	}
	return appErrors.Wrap(err, appErrors.ErrExtractionFailed.Code, appErrors.ErrExtractionFailed.Status, msg)
}

func decodeDiploma(raw []byte) (*models.DiplomaRecord, error) {
	var answer diplomaAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, malformed(err)
	}
	var missing []string
	if blank(answer.Institution) {
		missing = append(missing, "institution")
	}
	if blank(answer.Degree) {
		missing = append(missing, "degree")
	}
	if len(missing) > 0 {
		return nil, appErrors.NewIncompleteExtraction(missing...)
	}
	diploma := &models.DiplomaRecord{
		Institution:    strings.TrimSpace(*answer.Institution),
		Degree:         strings.TrimSpace(*answer.Degree),
		GraduationDate: deref(answer.GraduationDate),
		StudentName:    deref(answer.StudentName),
	}
	if !blank(answer.Honors) {
		honors := strings.TrimSpace(*answer.Honors)
		diploma.Honors = &honors
	}
	return diploma, nil
}

func decodeTranscript(raw []byte) (*models.TranscriptRecord, error) {
	var answer transcriptAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, malformed(err)
	}
	if len(answer.Courses) == 0 {
		return nil, appErrors.NewIncompleteExtraction("courses")
	}
	var missing []string
	for i := range answer.Courses {
		course := &answer.Courses[i]
		course.Name = strings.TrimSpace(course.Name)
		if course.Name == "" {
			missing = append(missing, fmt.Sprintf("courses[%d].name", i))
		}
		if strings.TrimSpace(string(course.Grade)) == "" {
			missing = append(missing, fmt.Sprintf("courses[%d].grade", i))
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.NewIncompleteExtraction(missing...)
	}
	return &models.TranscriptRecord{
		Courses:        answer.Courses,
		GPA:            answer.GPA,
		AcademicPeriod: answer.AcademicPeriod,
	}, nil
}

func malformed(err error) error {
	return appErrors.Wrap(err, appErrors.ErrMalformedModelOutput.Code, appErrors.ErrMalformedModelOutput.Status, appErrors.ErrMalformedModelOutput.Message)
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
