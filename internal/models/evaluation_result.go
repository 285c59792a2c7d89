package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NoDirectEquivalent is the defined outcome of a diploma lookup miss.
const NoDirectEquivalent = "No direct equivalent found"

// CourseConversion details how one course was converted.
type CourseConversion struct {
	Name          string     `json:"name"`
	Code          *string    `json:"code,omitempty"`
	Credits       *float64   `json:"credits,omitempty"`
	OriginalGrade GradeValue `json:"originalGrade"`
	NumericGrade  *float64   `json:"numericGrade,omitempty"`
	USGrade       string     `json:"usGrade"`
	GradePoints   float64    `json:"gradePoints"`
	Passed        bool       `json:"passed"`
}

// DegreeOutcome is the diploma half of an equivalency result.
type DegreeOutcome struct {
	LocalDegree  string   `json:"localDegree"`
	Institution  string   `json:"institution,omitempty"`
	USEquivalent string   `json:"usEquivalent"`
	Credits      *float64 `json:"credits,omitempty"`
	Duration     string   `json:"duration,omitempty"`
	Matched      bool     `json:"matched"`
}

// EquivalencyResult is the output of the equivalency engine for one record.
type EquivalencyResult struct {
	DocumentType  DocumentType       `json:"documentType"`
	CountryCode   string             `json:"countryCode"`
	OriginalGPA   *float64           `json:"originalGpa,omitempty"`
	NormalizedGPA *float64           `json:"normalizedGpa,omitempty"`
	Courses       []CourseConversion `json:"courses,omitempty"`
	Degree        *DegreeOutcome     `json:"degree,omitempty"`
	Note          string             `json:"note"`
}

// DocumentAnalysis is the equivalency output of one evaluated document.
type DocumentAnalysis struct {
	DocumentID  string            `json:"documentId"`
	Result      EquivalencyResult `json:"result"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
}

// AIAnalysis collects the automatic analyses of a request, one per document.
type AIAnalysis struct {
	Documents []DocumentAnalysis `json:"documents"`
}

// Put inserts or replaces the analysis of a document, keeping upload order.
func (a *AIAnalysis) Put(entry DocumentAnalysis) {
	for i := range a.Documents {
		if a.Documents[i].DocumentID == entry.DocumentID {
			a.Documents[i] = entry
			return
		}
	}
	a.Documents = append(a.Documents, entry)
}

// Value marshals the analysis for the JSONB column.
func (a AIAnalysis) Value() (driver.Value, error) {
	if a.Documents == nil {
		a.Documents = []DocumentAnalysis{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal ai analysis: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB column.
func (a *AIAnalysis) Scan(value interface{}) error {
	return scanJSON(value, a, "ai analysis")
}

// JSONPayload is a free-form reviewer supplied JSON document.
type JSONPayload json.RawMessage

// Value stores the payload verbatim; an empty payload becomes NULL.
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return []byte(p), nil
}

// Scan copies the JSONB column.
func (p *JSONPayload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("unsupported type %T for json payload", value)
	}
	return nil
}

// MarshalJSON emits the raw payload, or null.
func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON keeps a copy of the raw payload.
func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// EvaluationResult stores the automatic and reviewed outcome of a request.
type EvaluationResult struct {
	ID          string      `db:"id" json:"id"`
	RequestID   string      `db:"request_id" json:"requestId"`
	AIAnalysis  AIAnalysis  `db:"ai_analysis" json:"aiAnalysis"`
	HumanReview JSONPayload `db:"human_review" json:"humanReview,omitempty"`
	FinalResult JSONPayload `db:"final_result" json:"finalResult,omitempty"`
	ReviewedBy  *string     `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewNotes *string     `db:"review_notes" json:"reviewNotes,omitempty"`
	ReviewedAt  *time.Time  `db:"reviewed_at" json:"reviewedAt,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}
